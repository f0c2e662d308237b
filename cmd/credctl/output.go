package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for --field=key

	stdout io.Writer = os.Stdout
)

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Fprintln(stdout, v)
			}
		} else {
			for _, k := range sortedKeys(data) {
				fmt.Fprintf(stdout, "%s=%v\n", k, data[k])
			}
		}
	default: // table
		printTable(data)
	}
}

// printList prints the "data" array of a list response, one row per item.
func printList(result map[string]any, columns ...string) {
	items, _ := result["data"].([]any)
	if outputFormat == "json" {
		printResult(result)
		return
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(columns, "\t")))
	for _, it := range items {
		row, _ := it.(map[string]any)
		vals := make([]string, len(columns))
		for i, c := range columns {
			if v, ok := row[c]; ok && v != nil {
				vals[i] = fmt.Sprintf("%v", v)
			} else {
				vals[i] = "-"
			}
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
	w.Flush()
}

func printTable(data map[string]any) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		switch val := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%v\n", kk, val[kk])
			}
		case []any:
			fmt.Fprintf(w, "%s\t%s\n", k, joinAny(val, ", "))
		default:
			fmt.Fprintf(w, "%s\t%v\n", k, val)
		}
	}
	w.Flush()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinAny(vals []any, sep string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, sep)
}

func printSuccess(msg string) {
	fmt.Fprintln(stdout, msg)
}
