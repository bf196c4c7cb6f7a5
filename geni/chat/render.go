package chat

import (
	"strings"

	"github.com/ZanzyTHEbar/iam-geni/geni/normalize"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	totalStyle  = lipgloss.NewStyle().Bold(true)
	emptyStyle  = lipgloss.NewStyle().Italic(true).Faint(true)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5f87af"))
)

// Render draws a raw result the same way whether it was just returned or
// replayed from history.
func Render(result string, width int) string {
	r := normalize.Normalize(result)
	switch r.Kind {
	case normalize.KindEmpty:
		return emptyStyle.Render(normalize.EmptyText)
	case normalize.KindTable:
		return renderTable(r.Table, width)
	case normalize.KindCounted:
		return totalStyle.Render("Total: "+r.Total) + "\n" + renderTable(r.Table, width)
	default:
		return r.Text
	}
}

func renderTable(t normalize.Table, width int) string {
	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(t.Columns...).
		Rows(t.Rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	if width > 0 {
		tbl = tbl.Width(width)
	}
	return strings.TrimRight(tbl.Render(), "\n")
}
