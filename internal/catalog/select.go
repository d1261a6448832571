package catalog

import (
	sq "github.com/Masterminds/squirrel"
)

// SelectSQL builds the starter query offered for a table: the chosen
// columns qualified with the alias t, or every column when none is chosen.
func SelectSQL(table string, columns []string) string {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, "t."+c)
	}
	if len(cols) == 0 {
		cols = append(cols, "*")
	}

	query, _, err := sq.Select(cols...).From(table + " t").ToSql()
	if err != nil {
		return "SELECT * FROM " + table + " t"
	}
	return query
}
