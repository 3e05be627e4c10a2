// Package output renders crmctl results as colored status lines, aligned
// tables or indented JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const reset = "\033[0m"

const (
	fgRed    = 31
	fgGreen  = 32
	fgYellow = 33
	fgCyan   = 36
	fgWhite  = 37
	bold     = 1
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	// NoColor disables ANSI escapes. Set from NO_COLOR at startup.
	NoColor = os.Getenv("NO_COLOR") != ""
)

func paint(w io.Writer, attrs []int, format string, a ...any) {
	if NoColor {
		fmt.Fprintf(w, format, a...)
		return
	}
	codes := make([]string, len(attrs))
	for i, c := range attrs {
		codes[i] = strconv.Itoa(c)
	}
	fmt.Fprintf(w, "\033["+strings.Join(codes, ";")+"m"+format+reset, a...)
}

func Success(format string, a ...any) {
	paint(Stdout, []int{fgGreen, bold}, "✓ "+format+"\n", a...)
}

func Error(format string, a ...any) {
	paint(Stderr, []int{fgRed, bold}, "✗ "+format+"\n", a...)
}

func Info(format string, a ...any) {
	paint(Stdout, []int{fgCyan}, format+"\n", a...)
}

func Warn(format string, a ...any) {
	paint(Stdout, []int{fgYellow}, "⚠ "+format+"\n", a...)
}

func JSON(v any) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends cells; missing cells render empty and extras are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	for i, h := range t.headers {
		paint(Stdout, []int{fgWhite, bold}, "%-*s  ", widths[i], h)
	}
	fmt.Fprintln(Stdout)
	for i := range t.headers {
		fmt.Fprint(Stdout, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(Stdout)
	for _, row := range t.rows {
		for i, cell := range row {
			fmt.Fprintf(Stdout, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(Stdout)
	}
}
