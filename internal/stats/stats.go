// Package stats aggregates production and finance figures for an owner's
// lines.
package stats

import (
	"context"
	"sort"
	"strings"
	"time"

	"linesync/internal/finance"
	"linesync/internal/lines"
	"linesync/internal/queue"
	"linesync/internal/records"
)

// goldMarker identifies gold sales by category.
const goldMarker = "黄金"

// Production sums quantities by period.
type Production struct {
	Today int `json:"today"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Money sums amounts by period.
type Money struct {
	Month float64 `json:"month"`
	Year  float64 `json:"year"`
	Total float64 `json:"total"`
}

func (m *Money) add(date string, amount float64, now time.Time) {
	m.Total += amount
	if sameYear(date, now) {
		m.Year += amount
		if sameMonth(date, now) {
			m.Month += amount
		}
	}
}

// OperatorTotal is one operator's production in the current month.
type OperatorTotal struct {
	Operator string `json:"operator"`
	Quantity int    `json:"quantity"`
}

// Summary is the statistics view.
type Summary struct {
	Lines       int             `json:"lines"`
	ActiveLines int             `json:"active_lines"`
	Production  Production      `json:"production"`
	Income      Money           `json:"income"`
	Expense     Money           `json:"expense"`
	Net         Money           `json:"net"`
	GoldSales   Money           `json:"gold_sales"`
	Operators   []OperatorTotal `json:"operators,omitempty"`
	// Stale is set when any input came from a cached snapshot.
	Stale bool      `json:"stale"`
	AsOf  time.Time `json:"as_of"`
}

// Compute aggregates records and finance entries relative to now. Queued
// records count; they are real production that has not reached the backend.
func Compute(recs []records.Entry, entries []finance.Entry, now time.Time) Summary {
	s := Summary{AsOf: now}
	today := now.Format("2006-01-02")
	byOperator := map[string]int{}
	for _, r := range recs {
		if r.Date == today {
			s.Production.Today += r.Quantity
		}
		if sameYear(r.Date, now) {
			s.Production.Year += r.Quantity
			if sameMonth(r.Date, now) {
				s.Production.Month += r.Quantity
				if op := strings.TrimSpace(r.Operator); op != "" {
					byOperator[op] += r.Quantity
				}
			}
		}
	}
	for _, e := range entries {
		switch e.Type {
		case queue.EntryIncome:
			s.Income.add(e.Date, e.Amount, now)
			if strings.Contains(e.Category, goldMarker) || strings.Contains(strings.ToLower(e.Category), "gold") {
				s.GoldSales.add(e.Date, e.Amount, now)
			}
		case queue.EntryExpense:
			s.Expense.add(e.Date, e.Amount, now)
		}
	}
	s.Net = Money{
		Month: s.Income.Month - s.Expense.Month,
		Year:  s.Income.Year - s.Expense.Year,
		Total: s.Income.Total - s.Expense.Total,
	}
	for op, qty := range byOperator {
		s.Operators = append(s.Operators, OperatorTotal{Operator: op, Quantity: qty})
	}
	sort.Slice(s.Operators, func(i, j int) bool {
		if s.Operators[i].Quantity != s.Operators[j].Quantity {
			return s.Operators[i].Quantity > s.Operators[j].Quantity
		}
		return s.Operators[i].Operator < s.Operators[j].Operator
	})
	return s
}

func sameYear(date string, now time.Time) bool {
	return len(date) >= 4 && date[:4] == now.Format("2006")
}

func sameMonth(date string, now time.Time) bool {
	return len(date) >= 7 && date[:7] == now.Format("2006-01")
}

// Service gathers the inputs of Compute across an owner's lines.
type Service struct {
	lines   *lines.Service
	records *records.Service
	finance *finance.Service
	now     func() time.Time
}

// NewService builds a Service.
func NewService(l *lines.Service, r *records.Service, f *finance.Service) *Service {
	return &Service{lines: l, records: r, finance: f, now: time.Now}
}

// Summary computes statistics across every line ownerID has not deleted,
// disabled lines included; only ActiveLines is limited to enabled ones.
// When lineID is non-empty only that line is considered.
func (s *Service) Summary(ctx context.Context, ownerID, lineID string) (Summary, error) {
	var (
		lineIDs []string
		stale   bool
		active  int
	)
	if lineID != "" {
		lineIDs = []string{lineID}
	} else {
		res, err := s.lines.List(ctx, ownerID)
		if err != nil {
			return Summary{}, err
		}
		if res.Source == queue.SourceNone {
			return Summary{}, res.RemoteErr
		}
		stale = res.Source != queue.SourceRemote
		active = lines.ActiveCount(res.Value)
		for _, l := range res.Value {
			lineIDs = append(lineIDs, l.ID)
		}
	}

	var (
		allRecords []records.Entry
		allFinance []finance.Entry
	)
	for _, id := range lineIDs {
		recs, err := s.records.List(ctx, id)
		if err != nil {
			return Summary{}, err
		}
		fin, err := s.finance.List(ctx, id)
		if err != nil {
			return Summary{}, err
		}
		stale = stale || recs.Source != queue.SourceRemote || fin.Source != queue.SourceRemote
		allRecords = append(allRecords, recs.Entries...)
		allFinance = append(allFinance, fin.Entries...)
	}

	summary := Compute(allRecords, allFinance, s.now())
	summary.Lines = len(lineIDs)
	summary.ActiveLines = active
	if lineID != "" {
		summary.ActiveLines = 1
	}
	summary.Stale = stale
	return summary, nil
}
