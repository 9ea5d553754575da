package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mickamy/auditry"
)

// renderTable prints a pretty table to w
func renderTable(w io.Writer, headers []string, rows [][]interface{}) {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	headerRow := table.Row{}
	for _, h := range headers {
		headerRow = append(headerRow, h)
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		t.AppendRow(table.Row(row))
	}

	t.Render()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fieldRows lines old and new values up by field name, sorted.
func fieldRows(oldValues, newValues auditry.Fields) [][]interface{} {
	keys := map[string]struct{}{}
	for k := range oldValues {
		keys[k] = struct{}{}
	}
	for k := range newValues {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	rows := make([][]interface{}, 0, len(names))
	for _, k := range names {
		rows = append(rows, []interface{}{k, cell(oldValues, k), cell(newValues, k)})
	}
	return rows
}

func cell(f auditry.Fields, k string) string {
	if f == nil {
		return "-"
	}
	v, ok := f[k]
	if !ok {
		return "-"
	}
	return fmt.Sprint(v)
}
