package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-logsync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-logsync/pkg/crontab"
	"github.com/paulschiretz/pgl-logsync/pkg/filemutex"
	"github.com/paulschiretz/pgl-logsync/pkg/hints"
	"github.com/paulschiretz/pgl-logsync/pkg/plog"
	"github.com/paulschiretz/pgl-logsync/pkg/registry"
	"github.com/paulschiretz/pgl-logsync/pkg/runlog"
	"github.com/paulschiretz/pgl-logsync/pkg/shellcmd"
	"github.com/paulschiretz/pgl-logsync/pkg/syncconf"
	"github.com/paulschiretz/pgl-logsync/pkg/util"
)

// action defines which operation to execute.
type action int

const (
	actionRegister action = iota // The default action is to register a source.
	actionDeregister
	actionRunSync
	actionShowVersion
)

// options carries the parsed command-line configuration for one run.
type options struct {
	confDir     string
	name        string
	localDir    string
	remoteDir   string
	interval    crontab.Interval
	lockTimeout time.Duration
	keepRuns    int
}

// init is called before main. We use it to set up a custom, more descriptive
// help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "Registers local directories for periodic mirroring to a remote object store.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "  %s [flags] <config-dir> <local-dir> <remote-dir>\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "  %s -deregister -name <name> <config-dir>\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "  %s -sync <config-dir>\n\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "Object-store credentials are read from AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.\n\n")
		flag.PrintDefaults()
	}
}

// parseArgs defines and parses the command-line flags and positional
// arguments, and determines which action to run.
func parseArgs() (action, *options, error) {
	nameFlag := flag.String("name", "", "Name identifying the source. Defaults to the local directory's base name.")
	everyFlag := flag.Int("every", 5, "Sync interval magnitude.")
	unitFlag := flag.String("unit", "minutes", "Sync interval unit: 'minutes' or 'hours'.")
	logLevelFlag := flag.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	quietFlag := flag.Bool("quiet", false, "Suppress output below the warning level.")
	lockTimeoutFlag := flag.Duration("lock-timeout", filemutex.DefaultTimeout, "Bounded wait for the cross-process coordination locks.")
	keepRunsFlag := flag.Int("keep-runs", runlog.DefaultKeep, "Number of archived sync run logs to keep.")
	deregisterFlag := flag.Bool("deregister", false, "Deregister the source given by -name instead of registering one.")
	syncFlag := flag.Bool("sync", false, "Run a sync against the current configuration and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	plog.SetLevel(plog.LevelFromString(*logLevelFlag))
	plog.SetQuiet(*quietFlag)

	if *versionFlag {
		return actionShowVersion, nil, nil
	}

	unit, err := crontab.ParseIntervalUnit(*unitFlag)
	if err != nil {
		return actionRegister, nil, err
	}
	opts := &options{
		name:        *nameFlag,
		interval:    crontab.Interval{Every: *everyFlag, Unit: unit},
		lockTimeout: *lockTimeoutFlag,
		keepRuns:    *keepRunsFlag,
	}

	args := flag.Args()
	switch {
	case *deregisterFlag:
		if len(args) != 1 {
			return actionDeregister, nil, fmt.Errorf("deregister expects exactly one argument: <config-dir>")
		}
		if opts.name == "" {
			return actionDeregister, nil, fmt.Errorf("the -name flag is required for deregistration")
		}
		opts.confDir = args[0]
		return actionDeregister, opts, nil
	case *syncFlag:
		if len(args) != 1 {
			return actionRunSync, nil, fmt.Errorf("sync expects exactly one argument: <config-dir>")
		}
		opts.confDir = args[0]
		return actionRunSync, opts, nil
	default:
		if len(args) != 3 {
			return actionRegister, nil, fmt.Errorf("expected three arguments: <config-dir> <local-dir> <remote-dir>")
		}
		opts.confDir = args[0]
		opts.localDir = args[1]
		opts.remoteDir = args[2]
		if opts.name == "" {
			opts.name = filepath.Base(opts.localDir)
		}
		return actionRegister, opts, nil
	}
}

// buildApp wires the coordination stack for the given configuration directory:
// one file mutex per lock domain, the scheduler table, the sync configuration
// manager and the source registry on top.
func buildApp(opts *options) (*registry.Registry, *syncconf.Manager, error) {
	confDir, err := util.ExpandPath(opts.confDir)
	if err != nil {
		return nil, nil, err
	}
	confDir, err = filepath.Abs(confDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve configuration directory: %w", err)
	}
	// The lock files live inside the configuration directory, so it must
	// exist before any lock can be taken.
	if err := os.MkdirAll(confDir, util.UserWritableDirPerms); err != nil {
		return nil, nil, fmt.Errorf("failed to create configuration directory %s: %w", confDir, err)
	}

	creds := syncconf.Credentials{
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}
	if creds.AccessKey == "" || creds.SecretKey == "" {
		plog.Warn("Object-store credentials are not set; syncs to s3:// destinations will fail until they are")
	}

	inv := shellcmd.New(nil)
	table := crontab.New(inv, filemutex.New(filepath.Join(confDir, crontab.LockFileName)))

	conf, err := syncconf.New(syncconf.Config{
		ConfDir:     confDir,
		Credentials: creds,
		Interval:    opts.interval,
		LockTimeout: opts.lockTimeout,
		KeepRunLogs: opts.keepRuns,
	}, inv, table, filemutex.New(filepath.Join(confDir, syncconf.LockFileName)))
	if err != nil {
		return nil, nil, err
	}

	reg := registry.New(conf, filemutex.New(filepath.Join(confDir, registry.LockFileName)), opts.lockTimeout)
	return reg, conf, nil
}

// runRegister initializes the shared configuration and registers one source.
func runRegister(ctx context.Context, opts *options) error {
	localDir, err := util.ExpandPath(opts.localDir)
	if err != nil {
		return err
	}
	localDir, err = filepath.Abs(localDir)
	if err != nil {
		return fmt.Errorf("failed to resolve local directory: %w", err)
	}

	reg, _, err := buildApp(opts)
	if err != nil {
		return err
	}
	if err := reg.Initialize(ctx); err != nil {
		return err
	}
	return reg.Register(ctx, registry.LogSource{
		Name:      opts.name,
		LocalDir:  localDir,
		RemoteDir: opts.remoteDir,
	})
}

// runDeregister removes one source. An unknown name is reported but not fatal:
// the desired end state already holds.
func runDeregister(ctx context.Context, opts *options) error {
	reg, _, err := buildApp(opts)
	if err != nil {
		return err
	}
	err = reg.Deregister(ctx, opts.name)
	if hints.IsHint(err) {
		plog.Notice("Nothing to deregister", "name", opts.name)
		return nil
	}
	return err
}

// runSync performs one synchronous sync run, as the scheduler would.
func runSync(ctx context.Context, opts *options) error {
	_, conf, err := buildApp(opts)
	if err != nil {
		return err
	}
	return conf.RunSync(ctx)
}

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context) error {
	act, opts, err := parseArgs()
	if err != nil {
		return err
	}

	switch act {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	case actionDeregister:
		plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid(), "action", "deregister")
		return runDeregister(ctx, opts)
	case actionRunSync:
		plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid(), "action", "sync")
		return runSync(ctx, opts)
	case actionRegister:
		plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid(), "action", "register")
		return runRegister(ctx, opts)
	default:
		return fmt.Errorf("internal error: unknown action %d", act)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
