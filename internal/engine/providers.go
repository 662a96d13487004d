package engine

import (
	"context"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

// StaticProvider serves pre-computed scores keyed by transaction ID. The
// classifier and LLM run outside this core, so callers that already hold
// their output (batch files, tests) feed it through here.
type StaticProvider struct {
	source model.SignalSource
	scores map[string]model.SignalScore
}

// NewStaticProvider creates a provider over pre-computed scores.
func NewStaticProvider(source model.SignalSource, scores map[string]model.SignalScore) *StaticProvider {
	return &StaticProvider{source: source, scores: scores}
}

// Score returns the stored score for the transaction, or absence.
func (p *StaticProvider) Score(_ context.Context, txn model.Transaction) (*model.SignalScore, error) {
	sig, ok := p.scores[txn.ID]
	if !ok {
		return nil, nil
	}
	sig.Source = p.source
	return &sig, nil
}

// ProviderFunc adapts a function to the SignalProvider interface.
type ProviderFunc func(ctx context.Context, txn model.Transaction) (*model.SignalScore, error)

// Score implements service.SignalProvider.
func (f ProviderFunc) Score(ctx context.Context, txn model.Transaction) (*model.SignalScore, error) {
	return f(ctx, txn)
}
