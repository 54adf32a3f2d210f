package syncconf

// syncScript is the fixed content of the generated transfer script. It is
// regenerated wholesale on every Initialize so local edits never survive.
const syncScript = `#!/bin/sh
# Generated by PGL-LogSync; regenerated on every initialize. Do not edit.
#
# Usage: s3sync.sh <config dir or file> <s3cfg file>
#
# Each *.logsync.conf line has the form "SOURCE DEST". DESTs starting with
# s3:// are synced with s3cmd; anything else is mirrored locally with rsync.

if [ "$#" -ne 2 ]; then
    echo "usage: $0 <config dir or file> <s3cfg file>" >&2
    exit 1
fi

CONF="$1"
S3CFG="$2"

if [ -f "$CONF" ]; then
    FILES="$CONF"
elif [ -d "$CONF" ]; then
    FILES=$(find "$CONF" -maxdepth 1 -name '*.logsync.conf' 2>/dev/null)
else
    echo "config path not found: $CONF" >&2
    exit 1
fi

[ -z "$FILES" ] && exit 0

for FILE in $FILES; do
    while IFS=' ' read -r SRC DST; do
        case "$SRC" in
            ''|\#*) continue ;;
        esac
        if [ -z "$DST" ]; then
            echo "malformed line in $FILE: missing destination for $SRC" >&2
            exit 1
        fi
        if [ ! -e "$SRC" ]; then
            echo "skipping $SRC: does not exist" >&2
            continue
        fi
        case "$DST" in
            s3://*)
                s3cmd -c "$S3CFG" sync "$SRC" "$DST"
                ;;
            *)
                mkdir -p "$DST" && rsync -a --delete "$SRC" "$DST"
                ;;
        esac
    done < "$FILE"
done

exit 0
`

// s3cfgTemplate is the generated transfer-tool credentials file. Only the
// access key and secret key vary; the transfer defaults are held constant
// across generations.
const s3cfgTemplate = `[default]
access_key = %s
secret_key = %s
bucket_location = us-east-1
check_ssl_certificate = True
encoding = UTF-8
encrypt = False
enable_multipart = True
multipart_chunk_size_mb = 15
preserve_attrs = True
recursive = True
socket_timeout = 300
use_https = True
`
