package analysis

import (
	"context"
	"fmt"

	"github.com/dvloznov/finease/internal/input"
)

// Analyzer produces a stress assessment for one request. Implementations make
// a single attempt per call.
type Analyzer interface {
	Analyze(ctx context.Context, req input.Request) (*Result, error)
}

// Level is the stress band of a score.
type Level string

const (
	LevelStable   Level = "Stable"
	LevelMild     Level = "Mild"
	LevelHigh     Level = "High"
	LevelCritical Level = "Critical"
)

// Levels lists the bands in ascending order.
var Levels = []Level{LevelStable, LevelMild, LevelHigh, LevelCritical}

// Class splits spending into needs and wants.
type Class string

const (
	ClassEssential     Class = "essential"
	ClassDiscretionary Class = "discretionary"
)

// Transaction is one normalized transaction extracted by the model.
type Transaction struct {
	Date     string  `json:"date"`
	Amount   float64 `json:"amount"`
	Category string  `json:"category"`
	Class    Class   `json:"class"`
}

// Result is the parsed model output.
type Result struct {
	Score           int           `json:"score"`
	Level           Level         `json:"level"`
	Observations    []string      `json:"observations"`
	RecentChanges   string        `json:"recentChanges"`
	Importance      string        `json:"importance"`
	Recommendations []string      `json:"recommendations"`
	Transactions    []Transaction `json:"transactions"`

	// Warnings are data-quality notes added by the consumer, never by the model.
	Warnings []string `json:"warnings,omitempty"`
}

// LevelForScore applies the fixed banding: 0–30 Stable, 31–60 Mild,
// 61–80 High, 81–100 Critical.
func LevelForScore(score int) Level {
	switch {
	case score <= 30:
		return LevelStable
	case score <= 60:
		return LevelMild
	case score <= 80:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// CheckConsistency reports a warning when the level does not match the band
// of the score. Both fields are kept as returned.
func (r *Result) CheckConsistency() []string {
	want := LevelForScore(r.Score)
	if r.Level == want {
		return nil
	}
	return []string{fmt.Sprintf("level %q is inconsistent with score %d (expected %q)", r.Level, r.Score, want)}
}
