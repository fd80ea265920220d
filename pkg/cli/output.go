package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// ParseOutputFormat parses an --output value. The empty string is table.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case FormatTable, "":
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", Usagef("unknown output format %q (want table or json)", s)
}

// Tabular is implemented by results that render as a table.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

// Printer writes results in one format.
type Printer struct {
	format OutputFormat
	w      io.Writer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(format OutputFormat, w io.Writer) *Printer {
	return &Printer{format: format, w: w}
}

// Print writes data. Non-Tabular data is printed as JSON in either format.
func (p *Printer) Print(data any) error {
	if t, ok := data.(Tabular); ok && p.format == FormatTable {
		return writeTable(p.w, t)
	}
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func writeTable(w io.Writer, t Tabular) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if h := t.Header(); len(h) > 0 {
		fmt.Fprintln(tw, strings.Join(h, "\t"))
	}
	for _, row := range t.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// KeyValues is a two-column table.
type KeyValues [][2]string

// Header implements Tabular.
func (kv KeyValues) Header() []string { return nil }

// Rows implements Tabular.
func (kv KeyValues) Rows() [][]string {
	rows := make([][]string, len(kv))
	for i, pair := range kv {
		rows[i] = []string{pair[0] + ":", pair[1]}
	}
	return rows
}
