package aggregate

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finease/internal/analysis"
)

func tx(date string, amount float64, class analysis.Class) analysis.Transaction {
	return analysis.Transaction{Date: date, Amount: amount, Category: "x", Class: class}
}

func TestDaily_GroupsAndSplits(t *testing.T) {
	got := Daily([]analysis.Transaction{
		tx("2023-10-02", 30, analysis.ClassEssential),
		tx("2023-10-01", 100, analysis.ClassEssential),
		tx("2023-10-01", 50, analysis.ClassDiscretionary),
	})

	assert.Equal(t, []DailySpend{
		{Date: "2023-10-01", Total: 150, Essential: 100, Discretionary: 50},
		{Date: "2023-10-02", Total: 30, Essential: 30, Discretionary: 0},
	}, got)
}

func TestDaily_Empty(t *testing.T) {
	assert.Empty(t, Daily(nil))
}

func TestDaily_KeepsLatestGroups(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	var txs []analysis.Transaction
	for i := 0; i < 25; i++ {
		txs = append(txs, tx(start.AddDate(0, 0, i).Format("2006-01-02"), 10, analysis.ClassEssential))
	}

	got := Daily(txs)
	require.Len(t, got, MaxGroups)
	assert.Equal(t, "2023-01-06", got[0].Date)
	assert.Equal(t, "2023-01-25", got[len(got)-1].Date)
}

func TestDaily_PermutationInvariant(t *testing.T) {
	txs := []analysis.Transaction{
		tx("2023-10-01", 0.1, analysis.ClassDiscretionary),
		tx("2023-10-01", 0.2, analysis.ClassDiscretionary),
		tx("2023-10-01", 0.3, analysis.ClassEssential),
		tx("2023-10-03", 19.99, analysis.ClassEssential),
		tx("2023-10-02", 5.55, analysis.ClassDiscretionary),
		tx("2023-10-02", 1e6, analysis.ClassEssential),
		tx("not a date", 7, analysis.ClassEssential),
	}
	want := Daily(txs)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := append([]analysis.Transaction(nil), txs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Daily(shuffled), fmt.Sprintf("permutation %d", i))
	}

	assert.Equal(t, 0.6, want[1].Total)
}

func TestDaily_DateOrdering(t *testing.T) {
	got := Daily([]analysis.Transaction{
		tx("10/05/2023", 1, analysis.ClassEssential),
		tx("2023-10-01T09:30:00Z", 1, analysis.ClassEssential),
		tx("2023-10-03", 1, analysis.ClassEssential),
		tx("yesterday", 1, analysis.ClassEssential),
		tx("2023-10-05", 1, analysis.ClassEssential),
	})

	var dates []string
	for _, d := range got {
		dates = append(dates, d.Date)
	}
	// Same day in two spellings stays two groups.
	assert.Equal(t, []string{"yesterday", "2023-10-01T09:30:00Z", "2023-10-03", "10/05/2023", "2023-10-05"}, dates)
}
