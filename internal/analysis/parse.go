package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// wireResult mirrors Result with a float score so that "45.0" decodes.
type wireResult struct {
	Score           float64       `json:"score"`
	Level           Level         `json:"level"`
	Observations    []string      `json:"observations"`
	RecentChanges   string        `json:"recentChanges"`
	Importance      string        `json:"importance"`
	Recommendations []string      `json:"recommendations"`
	Transactions    []Transaction `json:"transactions"`
}

// ParseResult decodes and validates a model response body against
// ResultSchema. Item-count deviations and band mismatches end up in
// Result.Warnings; everything else is ErrMalformedResponse.
func ParseResult(raw string) (*Result, error) {
	clean := cleanModelJSON(raw)

	var generic interface{}
	if err := json.Unmarshal([]byte(clean), &generic); err != nil {
		return nil, fmt.Errorf("%w: unmarshal JSON: %v", ErrMalformedResponse, err)
	}

	warnings, err := ResultSchema.Validate(generic, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(clean), &wire); err != nil {
		return nil, fmt.Errorf("%w: decode result: %v", ErrMalformedResponse, err)
	}

	result := &Result{
		Score:           int(wire.Score),
		Level:           wire.Level,
		Observations:    wire.Observations,
		RecentChanges:   wire.RecentChanges,
		Importance:      wire.Importance,
		Recommendations: wire.Recommendations,
		Transactions:    wire.Transactions,
	}
	result.Warnings = append(warnings, result.CheckConsistency()...)

	return result, nil
}

// cleanModelJSON strips Markdown fences or stray text around a JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if json.Valid([]byte(s)) {
		return s
	}

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json) and the closing fence.
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
		if end := strings.LastIndex(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
