package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/export"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

func checkFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON, FormatCSV:
		return nil
	}
	return errs.Newf(errs.ErrKindInvalidInput, "unknown format %q (table, json, csv)", format)
}

func renderResult(w io.Writer, data api.TableData, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatCSV:
		return export.WriteCSV(w, data)
	}

	if len(data.Columns) == 0 {
		_, _ = fmt.Fprintln(w, "OK")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(data.Columns))
	for i, c := range data.Columns {
		header[i] = c
	}
	t.AppendHeader(header)

	for _, r := range data.Data {
		row := make(table.Row, len(data.Columns))
		for i := range row {
			if i < len(r) {
				row[i] = displayValue(r[i])
			}
		}
		t.AppendRow(row)
	}
	t.Render()

	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(data.Data))
	return nil
}

func displayValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return export.Cell(v)
}

// renderNodes prints one catalog level.
func renderNodes(w io.Writer, nodes []api.Node, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(nodes)
	case FormatCSV:
		data := api.TableData{Columns: []string{"name", "type", "subtype", "desc"}}
		for _, n := range nodes {
			data.Data = append(data.Data, []any{n.Name, string(n.Type), string(n.Subtype), n.Desc})
		}
		return export.WriteCSV(w, data)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"NAME", "TYPE", "SUBTYPE", "DESC"})
	for _, n := range nodes {
		name := n.Name
		if n.Fix {
			name += " *"
		}
		t.AppendRow(table.Row{name, n.Type, subtypeLabel(n), n.Desc})
	}
	t.Render()
	return nil
}

// subtypeLabel names the engine of connection nodes.
func subtypeLabel(n api.Node) string {
	if n.Type != api.NodeConn || n.Subtype == "" {
		return string(n.Subtype)
	}
	typ, err := api.ParseConnType(string(n.Subtype))
	if err != nil {
		return string(n.Subtype)
	}
	return typ.String()
}
