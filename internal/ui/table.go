package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// UsersView renders the idle users list, marking self.
func UsersView(self string, users []string) string {
	if len(users) == 0 {
		return MutedStyle.Render("Nobody is waiting right now")
	}

	rows := make([][]string, 0, len(users))
	for i, id := range users {
		name := Truncate(id, 40)
		if id == self {
			name += " (you)"
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), name})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Idle user").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// CallSummary is shown when a call ends.
type CallSummary struct {
	Partner  string
	Duration string
	Attempts int
	Sent     int
	Received int
	Reason   string
}

// CallSummaryView renders s as a go-pretty table.
func CallSummaryView(s CallSummary) string {
	t := prettytable.NewWriter()
	t.SetTitle(IconHangup + " Call Summary")
	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Partner", s.Partner},
		{"Duration", s.Duration},
		{"Attempts", s.Attempts},
		{"Messages sent", s.Sent},
		{"Messages received", s.Received},
	})
	if s.Reason != "" {
		t.AppendFooter(prettytable.Row{"Ended", s.Reason})
	}
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Color.Header = text.Colors{text.Bold, text.FgHiMagenta}
	t.Style().Title.Align = text.AlignCenter
	return t.Render()
}
