package crontab

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-logsync/pkg/util"
)

// IntervalUnit represents the unit of a scheduling interval.
type IntervalUnit int

const (
	// Minutes schedules a run every N minutes.
	Minutes IntervalUnit = iota // 0
	// Hours schedules a run within every Nth hour.
	Hours // 1
)

var intervalUnitToString = map[IntervalUnit]string{Minutes: "minutes", Hours: "hours"}
var stringToIntervalUnit map[string]IntervalUnit

func init() {
	stringToIntervalUnit = util.InvertMap(intervalUnitToString)
}

// String returns the string representation of an IntervalUnit.
func (u IntervalUnit) String() string {
	if str, ok := intervalUnitToString[u]; ok {
		return str
	}
	return fmt.Sprintf("unknown_interval_unit(%d)", u)
}

// ParseIntervalUnit parses a string and returns the corresponding IntervalUnit.
func ParseIntervalUnit(s string) (IntervalUnit, error) {
	if unit, ok := stringToIntervalUnit[s]; ok {
		return unit, nil
	}
	return 0, fmt.Errorf("invalid IntervalUnit: %q. Must be 'minutes' or 'hours'", s)
}

// MarshalJSON implements the json.Marshaler interface for IntervalUnit.
func (u IntervalUnit) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for IntervalUnit.
func (u *IntervalUnit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("IntervalUnit should be a string, got %s", data)
	}
	unit, err := ParseIntervalUnit(s)
	if err != nil {
		return err
	}
	*u = unit
	return nil
}

// Interval is an immutable scheduling interval used to render a crontab
// timing expression.
type Interval struct {
	Every int
	Unit  IntervalUnit
}

// Validate checks that the interval can be rendered into a timing expression.
func (i Interval) Validate() error {
	if i.Every <= 0 {
		return fmt.Errorf("interval magnitude must be positive, got %d", i.Every)
	}
	if _, ok := intervalUnitToString[i.Unit]; !ok {
		return fmt.Errorf("unknown interval unit %d", i.Unit)
	}
	return nil
}

// Spec renders the crontab timing expression for the interval.
//
// The hourly form `* */n * * *` fires every minute within each matching hour,
// not once per N hours. Existing installed tables use exactly this expression,
// and replacement matches against it, so it is kept verbatim.
func (i Interval) Spec() string {
	if i.Unit == Hours {
		return fmt.Sprintf("* */%d * * *", i.Every)
	}
	return fmt.Sprintf("*/%d * * * *", i.Every)
}
