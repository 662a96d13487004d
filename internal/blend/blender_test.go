package blend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

func sig(source model.SignalSource, score float64, account string) *model.SignalScore {
	return &model.SignalScore{Source: source, Score: score, Account: account}
}

func TestBlender_Blend(t *testing.T) {
	cfg := Config{
		WRules:      0.55,
		WML:         0.35,
		WLLM:        0.10,
		AutoPostMin: 0.90,
		ReviewMin:   0.75,
	}

	tests := []struct {
		name        string
		rule        *model.SignalScore
		ml          *model.SignalScore
		llm         *model.SignalScore
		wantScore   float64
		wantRoute   model.Route
		wantAccount string
	}{
		{
			name:        "strong rule and ml without llm auto posts",
			rule:        sig(model.SourceRules, 0.95, "6100 Office Supplies"),
			ml:          sig(model.SourceML, 0.89, "6100 Office Supplies"),
			wantScore:   0.55*0.95 + 0.35*0.89 + 0.10*0.95,
			wantRoute:   model.RouteAutoPost,
			wantAccount: "6100 Office Supplies",
		},
		{
			name:        "llm weight redistributes onto stronger signal",
			rule:        sig(model.SourceRules, 0.60, "6200 Utilities"),
			ml:          sig(model.SourceML, 0.80, "6300 Software"),
			wantScore:   0.55*0.60 + 0.35*0.80 + 0.10*0.80,
			wantRoute:   model.RouteHumanReview,
			wantAccount: "6300 Software",
		},
		{
			name:        "all three signals present",
			rule:        sig(model.SourceRules, 0.90, "6100 Office Supplies"),
			ml:          sig(model.SourceML, 0.85, "6100 Office Supplies"),
			llm:         sig(model.SourceLLM, 0.95, "6200 Utilities"),
			wantScore:   0.55*0.90 + 0.35*0.85 + 0.10*0.95,
			wantRoute:   model.RouteNeedsReview,
			wantAccount: "6200 Utilities",
		},
		{
			name:      "mid-band score without llm requests validation",
			rule:      sig(model.SourceRules, 0.72, "6400 Travel"),
			ml:        sig(model.SourceML, 0.70, "6400 Travel"),
			wantScore: 0.55*0.72 + 0.35*0.70 + 0.10*0.72,
			wantRoute: model.RouteLLMValidation,
		},
		{
			name:      "weak signals go to human review",
			rule:      sig(model.SourceRules, 0.30, "6500 Meals"),
			ml:        sig(model.SourceML, 0.25, "6500 Meals"),
			wantScore: 0.55*0.30 + 0.35*0.25 + 0.10*0.30,
			wantRoute: model.RouteHumanReview,
		},
		{
			name:      "no signals at all",
			wantScore: 0,
			wantRoute: model.RouteHumanReview,
		},
	}

	b := New(cfg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := b.Blend(tt.rule, tt.ml, tt.llm, 7)

			assert.InDelta(t, tt.wantScore, decision.BlendScore, 1e-9)
			assert.Equal(t, tt.wantRoute, decision.Route)
			assert.Equal(t, tt.wantAccount, decision.FinalAccount)
			assert.Equal(t, int64(7), decision.RuleVersion)
			assert.GreaterOrEqual(t, decision.BlendScore, 0.0)
			assert.LessOrEqual(t, decision.BlendScore, 1.0)
		})
	}
}

func TestBlender_AccountTieBreaksBySourcePriority(t *testing.T) {
	b := New(DefaultConfig())

	decision := b.Blend(
		sig(model.SourceRules, 0.80, "6100 Office Supplies"),
		sig(model.SourceML, 0.80, "6300 Software"),
		sig(model.SourceLLM, 0.80, "6200 Utilities"),
		1,
	)

	// Equal raw scores: rules wins, then ml, then llm.
	assert.Equal(t, "6100 Office Supplies", decision.FinalAccount)
}

func TestBlender_ScoreStaysInUnitInterval(t *testing.T) {
	// Misconfigured weights summing above 1.0 must still yield a score in
	// [0,1]; the warning is logged, not enforced.
	b := New(Config{
		WRules:      0.80,
		WML:         0.50,
		WLLM:        0.30,
		AutoPostMin: 0.90,
		ReviewMin:   0.75,
	})

	decision := b.Blend(
		sig(model.SourceRules, 1.0, "a"),
		sig(model.SourceML, 1.0, "a"),
		sig(model.SourceLLM, 1.0, "a"),
		1,
	)

	require.LessOrEqual(t, decision.BlendScore, 1.0)
	require.GreaterOrEqual(t, decision.BlendScore, 0.0)
}

func TestBlender_SignalBreakdownOmitsAbsentSignals(t *testing.T) {
	b := New(DefaultConfig())

	decision := b.Blend(sig(model.SourceRules, 0.9, "a"), nil, nil, 1)

	assert.Len(t, decision.SignalBreakdown, 1)
	_, ok := decision.SignalBreakdown[model.SourceRules]
	assert.True(t, ok)
}

func TestBlender_LLMValidationRequiresNoPriorLLM(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg)

	// Same mid-band score, but an LLM signal was already used: never ask again.
	decision := b.Blend(
		sig(model.SourceRules, 0.72, "a"),
		sig(model.SourceML, 0.70, "a"),
		sig(model.SourceLLM, 0.71, "a"),
		1,
	)

	assert.Equal(t, model.RouteHumanReview, decision.Route)
}
