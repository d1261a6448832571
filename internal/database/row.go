package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/sqlexplorer/internal/errs"
)

// Result is a materialised result set.
type Result struct {
	Columns []string
	Rows    [][]any
}

// ScanTable reads every row of rows into a Result whose values are safe to
// encode as JSON: byte slices become strings and times are formatted.
// Data is always non-nil. ScanTable always closes rows.
func ScanTable(rows Rows) (*Result, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	res := &Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}
		for i, v := range dest {
			dest[i] = jsonValue(v)
		}
		res.Rows = append(res.Rows, dest)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}
	return res, nil
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05.999999999")
	case [16]byte:
		// pgx decodes uuid columns into a bare array
		return uuid.UUID(x).String()
	default:
		return v
	}
}

// ScanObjects reads (name, comment, kind) rows. Nullable comment and kind
// columns read as empty strings.
func ScanObjects(rows Rows) ([]Object, error) {
	defer rows.Close()

	out := make([]Object, 0)
	for rows.Next() {
		var name string
		var comment, kind sql.NullString
		if err := rows.Scan(&name, &comment, &kind); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan catalog row", err)
		}
		out = append(out, Object{Name: name, Comment: comment.String, Kind: kind.String})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error during catalog iteration", err)
	}
	return out, nil
}
