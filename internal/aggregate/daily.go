// Package aggregate shapes analysed transactions into the daily series drawn
// by the spending chart.
package aggregate

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finease/internal/analysis"
)

// MaxGroups bounds the chart to the latest days.
const MaxGroups = 20

// DailySpend is one bar of the chart.
type DailySpend struct {
	Date          string  `json:"date"`
	Total         float64 `json:"total"`
	Essential     float64 `json:"essential"`
	Discretionary float64 `json:"discretionary"`
}

type group struct {
	date          string
	day           civil.Date
	parsed        bool
	total         decimal.Decimal
	essential     decimal.Decimal
	discretionary decimal.Decimal
}

// Daily groups transactions by their exact date string, splits each day into
// essential and discretionary totals, orders the days chronologically and
// keeps the latest MaxGroups of them. The output depends only on the values
// of txs, not on their order.
func Daily(txs []analysis.Transaction) []DailySpend {
	groups := make(map[string]*group)
	for _, tx := range txs {
		g, ok := groups[tx.Date]
		if !ok {
			day, parsed := parseDay(tx.Date)
			g = &group{date: tx.Date, day: day, parsed: parsed}
			groups[tx.Date] = g
		}

		amount := decimal.NewFromFloat(tx.Amount)
		g.total = g.total.Add(amount)
		switch tx.Class {
		case analysis.ClassEssential:
			g.essential = g.essential.Add(amount)
		case analysis.ClassDiscretionary:
			g.discretionary = g.discretionary.Add(amount)
		}
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return less(ordered[i], ordered[j]) })

	if len(ordered) > MaxGroups {
		ordered = ordered[len(ordered)-MaxGroups:]
	}

	out := make([]DailySpend, 0, len(ordered))
	for _, g := range ordered {
		out = append(out, DailySpend{
			Date:          g.date,
			Total:         g.total.InexactFloat64(),
			Essential:     g.essential.InexactFloat64(),
			Discretionary: g.discretionary.InexactFloat64(),
		})
	}
	return out
}

// less sorts unparseable dates first, then by calendar day, then by the raw
// string so that equal days in different spellings keep a stable order.
func less(a, b *group) bool {
	if a.parsed != b.parsed {
		return !a.parsed
	}
	if a.parsed && a.day != b.day {
		return a.day.Before(b.day)
	}
	return a.date < b.date
}

var fallbackLayouts = []string{time.RFC3339, "01/02/2006"}

func parseDay(s string) (civil.Date, bool) {
	if d, err := civil.ParseDate(s); err == nil {
		return d, true
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}
