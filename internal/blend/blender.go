// Package blend combines independent signal scores into one calibrated
// decision with a provisional route.
package blend

import (
	"log/slog"
	"math"
	"time"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

// llmValidationMin is the minimum blend score at which a low-confidence
// decision is worth spending an LLM call on instead of going straight to a
// human.
const llmValidationMin = 0.70

// Config holds blend weights and routing thresholds.
type Config struct {
	WRules      float64
	WML         float64
	WLLM        float64
	AutoPostMin float64
	ReviewMin   float64
}

// DefaultConfig returns the default blend configuration.
func DefaultConfig() Config {
	return Config{
		WRules:      0.55,
		WML:         0.35,
		WLLM:        0.10,
		AutoPostMin: 0.90,
		ReviewMin:   0.75,
	}
}

// WeightSum returns the sum of the three signal weights.
func (c Config) WeightSum() float64 {
	return c.WRules + c.WML + c.WLLM
}

// Blender produces BlendedDecisions from signal scores. It holds no mutable
// state and is safe for concurrent use.
type Blender struct {
	cfg Config
}

// New creates a blender. Weights that do not sum to 1.0 (±0.01) are a
// configuration warning, not fatal: blending proceeds with the supplied
// weights, never silently normalized, so behavior stays auditable.
func New(cfg Config) *Blender {
	if sum := cfg.WeightSum(); math.Abs(sum-1.0) > 0.01 {
		slog.Warn("blend weights do not sum to 1.0, proceeding unnormalized",
			"w_rules", cfg.WRules,
			"w_ml", cfg.WML,
			"w_llm", cfg.WLLM,
			"sum", sum)
	}
	return &Blender{cfg: cfg}
}

// Blend combines the available signals into one decision. A nil pointer
// means that signal was absent. When the LLM signal is absent its weight is
// redistributed onto the stronger of the remaining two signals, so the blend
// score stays a probability-like estimate rather than being deflated.
func (b *Blender) Blend(rule, ml, llm *model.SignalScore, ruleVersion int64) model.BlendedDecision {
	ruleScore := scoreOf(rule)
	mlScore := scoreOf(ml)

	var score float64
	if llm != nil {
		score = b.cfg.WRules*ruleScore + b.cfg.WML*mlScore + b.cfg.WLLM*llm.Score
	} else {
		score = b.cfg.WRules*ruleScore + b.cfg.WML*mlScore + b.cfg.WLLM*math.Max(ruleScore, mlScore)
	}
	score = clamp01(score)

	breakdown := make(map[model.SignalSource]model.SignalScore, 3)
	for _, sig := range []*model.SignalScore{rule, ml, llm} {
		if sig != nil {
			breakdown[sig.Source] = *sig
		}
	}

	return model.BlendedDecision{
		Timestamp:       time.Now(),
		FinalAccount:    pickAccount(rule, ml, llm),
		Route:           b.route(score, llm != nil),
		SignalBreakdown: breakdown,
		BlendScore:      score,
		AutoPostMin:     b.cfg.AutoPostMin,
		ReviewMin:       b.cfg.ReviewMin,
		RuleVersion:     ruleVersion,
	}
}

// route maps a blend score onto the provisional disposition. The gate may
// still demote an auto_post; it never promotes.
func (b *Blender) route(score float64, llmUsed bool) model.Route {
	switch {
	case score >= b.cfg.AutoPostMin:
		return model.RouteAutoPost
	case score >= b.cfg.ReviewMin:
		return model.RouteNeedsReview
	case !llmUsed && score >= llmValidationMin:
		return model.RouteLLMValidation
	default:
		return model.RouteHumanReview
	}
}

// pickAccount selects the account from whichever individual signal carries
// the single highest raw score. Ties break by source priority: rules > ml >
// llm. The blend score itself never selects the account.
func pickAccount(signals ...*model.SignalScore) string {
	account := ""
	best := math.Inf(-1)
	for _, sig := range signals {
		if sig == nil || sig.Account == "" {
			continue
		}
		if sig.Score > best {
			best = sig.Score
			account = sig.Account
		}
	}
	return account
}

func scoreOf(sig *model.SignalScore) float64 {
	if sig == nil {
		return 0
	}
	return sig.Score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
