// Package export writes query results as CSV, either to a stream or to an
// object store bucket.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/filestore"
)

const contentType = "text/csv"

// WriteCSV writes a header row followed by one record per result row.
func WriteCSV(w io.Writer, data api.TableData) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(data.Columns); err != nil {
		return err
	}
	rec := make([]string, len(data.Columns))
	for _, row := range data.Data {
		for i := range rec {
			rec[i] = ""
			if i < len(row) {
				rec[i] = Cell(row[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Cell renders one value the way it appears in exported files. NULL is
// the empty string.
func Cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float64:
		// JSON numbers arrive as float64; keep integers integral.
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}

// CSV encodes data and uploads it to key inside bucket, creating the bucket
// if needed.
func CSV(ctx context.Context, store filestore.Store, bucket, key string, data api.TableData) (*filestore.ObjectInfo, error) {
	if bucket == "" || key == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "export needs a bucket and a key")
	}
	if !strings.HasSuffix(key, ".csv") {
		key += ".csv"
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, data); err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "failed to encode result", err)
	}

	if err := store.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return store.PutObject(ctx, bucket, key, &buf, int64(buf.Len()), filestore.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"rows":    fmt.Sprint(len(data.Data)),
			"columns": fmt.Sprint(len(data.Columns)),
		},
	})
}
