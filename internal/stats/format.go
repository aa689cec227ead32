package stats

import (
	"fmt"
	"io"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Render writes a plain-text report of s using tag's number formatting.
func Render(w io.Writer, s Summary, tag language.Tag) error {
	p := message.NewPrinter(tag)
	title := cases.Title(tag)

	rows := []struct {
		label string
		value string
	}{
		{"Lines", p.Sprintf("%d (%d active)", s.Lines, s.ActiveLines)},
		{"Produced today", p.Sprintf("%d", s.Production.Today)},
		{"Produced this month", p.Sprintf("%d", s.Production.Month)},
		{"Produced this year", p.Sprintf("%d", s.Production.Year)},
		{"Income this month", p.Sprintf("%.2f", s.Income.Month)},
		{"Income this year", p.Sprintf("%.2f", s.Income.Year)},
		{"Expenses this month", p.Sprintf("%.2f", s.Expense.Month)},
		{"Net this month", p.Sprintf("%.2f", s.Net.Month)},
		{"Net this year", p.Sprintf("%.2f", s.Net.Year)},
		{"Gold sales this month", p.Sprintf("%.2f", s.GoldSales.Month)},
		{"Gold sales total", p.Sprintf("%.2f", s.GoldSales.Total)},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%-22s %s\n", row.label+":", row.value); err != nil {
			return err
		}
	}
	for _, op := range s.Operators {
		if _, err := p.Fprintf(w, "  %-20s %d\n", title.String(op.Operator), op.Quantity); err != nil {
			return err
		}
	}
	if s.Stale {
		if _, err := fmt.Fprintln(w, "(some figures come from cached data)"); err != nil {
			return err
		}
	}
	return nil
}
