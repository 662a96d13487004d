// Package model defines the core domain models used throughout the application.
package model

// SignalSource identifies which provider produced a score.
type SignalSource string

// Signal source constants, in descending tie-break priority.
const (
	SourceRules SignalSource = "rules"
	SourceML    SignalSource = "ml"
	SourceLLM   SignalSource = "llm"
)

// SignalScore is one provider's opinion about a transaction. Scores are
// produced fresh per transaction and carry no identity beyond the call.
type SignalScore struct {
	Source   SignalSource
	Account  string // Suggested ledger account; may be empty
	Score    float64
	Metadata map[string]string
}
