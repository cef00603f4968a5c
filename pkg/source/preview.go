package source

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Preview writes the first n rows of b as an aligned text table and returns
// the number of rows written.
func Preview(w io.Writer, b *Batch, n int) (int, error) {
	names := make([]string, 0, b.Schema().NumFields())
	for _, f := range b.Schema().Fields() {
		names = append(names, f.Name)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(names, "\t"))

	rows := b.Head(n)
	cells := make([]string, len(names))
	for _, row := range rows {
		for i, name := range names {
			cells[i] = formatCell(row[name])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05.999999")
	default:
		return fmt.Sprintf("%v", x)
	}
}
