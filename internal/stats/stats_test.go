package stats_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/language"

	"linesync/internal/finance"
	"linesync/internal/records"
	"linesync/internal/stats"
)

var now = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func TestComputeBucketsByPeriod(t *testing.T) {
	recs := []records.Entry{
		{Date: "2026-03-14", Quantity: 5, Operator: "li wei"},
		{Date: "2026-03-02", Quantity: 7, Operator: "zhang"},
		{Date: "2026-01-20", Quantity: 11, Operator: "li wei"},
		{Date: "2025-12-31", Quantity: 100},
		{Date: "2026-03-14", Quantity: 2, Offline: true, Operator: "li wei"},
	}
	entries := []finance.Entry{
		{Type: "income", Category: "黄金销售收入", Amount: 1000, Date: "2026-03-10"},
		{Type: "income", Category: "加工费", Amount: 200, Date: "2026-02-10"},
		{Type: "expense", Category: "电费", Amount: 150, Date: "2026-03-05"},
		{Type: "income", Category: "Gold bar", Amount: 50, Date: "2025-06-01"},
	}

	s := stats.Compute(recs, entries, now)
	if s.Production != (stats.Production{Today: 7, Month: 14, Year: 25}) {
		t.Fatalf("unexpected production: %+v", s.Production)
	}
	if s.Income.Month != 1000 || s.Income.Year != 1200 || s.Income.Total != 1250 {
		t.Fatalf("unexpected income: %+v", s.Income)
	}
	if s.Net.Month != 850 || s.Net.Total != 1100 {
		t.Fatalf("unexpected net: %+v", s.Net)
	}
	if s.GoldSales.Month != 1000 || s.GoldSales.Total != 1050 {
		t.Fatalf("unexpected gold sales: %+v", s.GoldSales)
	}
	if len(s.Operators) != 2 || s.Operators[0].Operator != "li wei" || s.Operators[0].Quantity != 7 || s.Operators[1].Quantity != 7 {
		t.Fatalf("unexpected operators: %+v", s.Operators)
	}
}

func TestRenderGroupsThousands(t *testing.T) {
	s := stats.Summary{
		Lines:       2,
		ActiveLines: 1,
		Production:  stats.Production{Year: 12345},
		Income:      stats.Money{Month: 1234567.5},
		Operators:   []stats.OperatorTotal{{Operator: "li wei", Quantity: 1200}},
		Stale:       true,
	}
	var buf bytes.Buffer
	if err := stats.Render(&buf, s, language.English); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"12,345", "1,234,567.50", "Li Wei", "1,200", "cached data", "2 (1 active)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
