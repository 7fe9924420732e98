package analysis

import (
	"strings"

	"github.com/dvloznov/finease/internal/input"
)

const systemInstructionBase = `You are a Financial Stress Detection AI designed to analyze personal spending behavior and identify early signs of financial stress using behavioral analytics.

Your role:
- Analyze transaction-level spending data over time
- Detect anomalies, behavioral shifts, and risk patterns
- Quantify financial stress using an interpretable score (0-100)
- Provide empathetic, non-judgmental insights and preventive guidance
- Act as a financial wellness assistant, not a banking system

Tone:
Calm, empathetic, analytical, supportive. You are a preventive financial wellness assistant.

Tasks:
1) Spending Pattern Analysis: Identify trends, discretionary vs essential spending.
2) Financial Stress Detection: Detect signs like sudden discretionary increases, rapid balance decline, impulse behavior.
3) Stress Scoring: 0-30 (Stable), 31-60 (Mild), 61-80 (High), 81-100 (Critical).
4) Alerts: Short, empathetic alerts.
5) Guidance: Practical, low-effort suggestions.
`

const (
	textPromptPrefix = "Analyze the following transaction data:\n\n"
	filePrompt       = "Analyze the financial data in the attached file (image or PDF). Extract transactions and identify stress patterns."
)

// SystemInstruction is the fixed instruction sent with every analysis call.
var SystemInstruction = buildSystemInstruction()

func buildSystemInstruction() string {
	var b strings.Builder
	b.WriteString(systemInstructionBase)
	b.WriteString("\nOutput:\n")
	b.WriteString("You must return a JSON object that matches the provided schema perfectly.\n")
	b.WriteString("Required fields: " + strings.Join(ResultSchema.RequiredFields(), ", ") + ".\n")
	b.WriteString("Transaction amounts are non-negative; use \"class\" to mark each one essential or discretionary.\n")
	return b.String()
}

// userPrompt returns the instruction text that accompanies the user's content.
func userPrompt(req input.Request) string {
	switch r := req.(type) {
	case input.Text:
		return textPromptPrefix + r.Content
	default:
		return filePrompt
	}
}
