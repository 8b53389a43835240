package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
)

// printer renders command output as indented JSON or aligned tables.
type printer struct {
	json bool
}

func (p printer) printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal("format json", err)
	}
	fmt.Println(string(data))
}

func (p printer) table(header []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	if len(header) > 0 {
		fmt.Fprintln(w, joinRow(header))
	}
	for _, row := range rows {
		fmt.Fprintln(w, joinRow(row))
	}
	_ = w.Flush()
}

// attributeView is the slice of the daemon's state payload the table needs.
type attributeView struct {
	Text string `json:"text"`
}

// attributeRows flattens decoded attributes into sorted key/text pairs.
func attributeRows(attrs map[string]attributeView) [][]string {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, attrs[key].Text})
	}
	return rows
}

func joinRow(row []string) string {
	if len(row) == 0 {
		return ""
	}
	out := row[0]
	for i := 1; i < len(row); i++ {
		out += "\t" + row[i]
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
