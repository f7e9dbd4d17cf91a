package export

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
	"unicode/utf8"
)

// Table is a titled grid of preformatted cells.
type Table struct {
	Title   string
	Period  string
	Columns []string
	Rows    [][]string
	Footer  string
}

type Reporter struct {
	writer io.Writer
	tmpl   *template.Template
}

const tableTemplate = `
{{.Title}}{{if .Period}} ({{.Period}}){{end}}

{{separator}}
{{formatRow .Columns}}
{{separator}}
{{range .Rows}}{{formatRow .}}
{{else}}{{empty}}
{{end}}{{separator}}
{{if .Footer}}{{.Footer}}
{{end}}`

func NewReporter(writer io.Writer) *Reporter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Reporter{writer: writer}
}

func (c *Reporter) Handle(table Table) error {
	widths := columnWidths(table)

	funcMap := template.FuncMap{
		"formatRow": func(cells []string) string {
			var b strings.Builder
			b.WriteString("|")
			for i, w := range widths {
				cell := ""
				if i < len(cells) {
					cell = cells[i]
				}
				fmt.Fprintf(&b, " %-*s |", w, cell)
			}
			return b.String()
		},
		"separator": func() string {
			var b strings.Builder
			b.WriteString("+")
			for _, w := range widths {
				b.WriteString(strings.Repeat("-", w+2))
				b.WriteString("+")
			}
			return b.String()
		},
		"empty": func() string {
			return "| (no rows)"
		},
	}

	t, err := template.New("report").Funcs(funcMap).Parse(tableTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	return t.Execute(c.writer, table)
}

func columnWidths(table Table) []int {
	widths := make([]int, len(table.Columns))
	for i, c := range table.Columns {
		widths[i] = utf8.RuneCountInString(c)
	}
	for _, row := range table.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := utf8.RuneCountInString(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}
	return widths
}
