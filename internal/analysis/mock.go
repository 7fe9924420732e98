package analysis

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dvloznov/finease/internal/input"
)

// essentialCategories are treated as needs by the mock analyzer.
var essentialCategories = map[string]bool{
	"housing": true, "rent": true, "utilities": true, "food": true,
	"groceries": true, "transport": true, "health": true, "insurance": true,
}

// Mock is a deterministic offline analyzer for local runs without
// credentials. It reads "date,description,amount,category" CSV rows and scores
// the discretionary share of spending.
type Mock struct{}

// Analyze never fails for text input; file input yields an empty assessment.
func (Mock) Analyze(ctx context.Context, req input.Request) (*Result, error) {
	var txs []Transaction
	if t, ok := req.(input.Text); ok {
		txs = parseCSVTransactions(t.Content)
	}

	var total, discretionary float64
	for _, tx := range txs {
		total += tx.Amount
		if tx.Class == ClassDiscretionary {
			discretionary += tx.Amount
		}
	}

	score := 0
	if total > 0 {
		score = int(math.Round(discretionary / total * 100))
	}

	return &Result{
		Score: score,
		Level: LevelForScore(score),
		Observations: []string{
			fmt.Sprintf("%d transactions reviewed", len(txs)),
			fmt.Sprintf("Discretionary spending is %d%% of the total", score),
		},
		RecentChanges: "No earlier period available for comparison.",
		Importance:    "A high discretionary share leaves less room for unexpected costs.",
		Recommendations: []string{
			"Review recurring subscriptions",
			"Set a weekly limit for dining out",
			"Move a small fixed amount to savings on payday",
		},
		Transactions: txs,
	}, nil
}

func parseCSVTransactions(content string) []Transaction {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil
	}

	var txs []Transaction
	for _, rec := range records {
		if len(rec) < 4 {
			continue
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			continue // header or malformed row
		}
		category := strings.TrimSpace(rec[3])
		class := ClassDiscretionary
		if essentialCategories[strings.ToLower(category)] {
			class = ClassEssential
		}
		txs = append(txs, Transaction{
			Date:     strings.TrimSpace(rec[0]),
			Amount:   math.Abs(amount),
			Category: category,
			Class:    class,
		})
	}
	return txs
}

var _ Analyzer = Mock{}
