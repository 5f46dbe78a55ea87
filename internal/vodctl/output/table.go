package output

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Table prints rows in aligned columns. Column widths are measured on the
// visible text, so cells colored by BucketStatusColor line up with plain ones.
type Table struct {
	out    io.Writer
	header []string
	rows   [][]string
	quiet  bool
}

func NewTable(out io.Writer, header []string, quiet bool) *Table {
	return &Table{out: out, header: header, quiet: quiet}
}

// Row adds one row. Cells beyond the header are printed unpadded.
func (t *Table) Row(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Render() error {
	if t.quiet {
		return nil
	}

	widths := make([]int, len(t.header))
	for _, row := range append([][]string{t.header}, t.rows...) {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], visibleWidth(cell))
			}
		}
	}

	w := bufio.NewWriter(t.out)
	writeRow := func(cells []string) {
		var line strings.Builder
		for i, cell := range cells {
			if i > 0 {
				line.WriteString("  ")
			}
			line.WriteString(cell)
			if i < len(widths) && i < len(cells)-1 {
				line.WriteString(strings.Repeat(" ", widths[i]-visibleWidth(cell)))
			}
		}
		w.WriteString(line.String())
		w.WriteByte('\n')
	}

	writeRow(t.header)
	for _, row := range t.rows {
		writeRow(row)
	}
	return w.Flush()
}

func visibleWidth(s string) int {
	return runewidth.StringWidth(ansiSequence.ReplaceAllString(s, ""))
}
