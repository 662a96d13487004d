package gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

// GateConfig holds auto-post gate thresholds.
type GateConfig struct {
	// AutoPostMin is the global calibrated-probability floor for automatic
	// posting; a tenant row may override it.
	AutoPostMin float64
	// AnomalySigma is the standard-deviation multiple beyond which a
	// transaction amount counts as an outlier for its vendor.
	AnomalySigma float64
	// AnomalyMinHistory is the minimum number of recorded amounts a vendor
	// needs before the anomaly check can block; below it the check passes.
	AnomalyMinHistory int64
}

// DefaultGateConfig returns the default gate configuration.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		AutoPostMin:       0.90,
		AnomalySigma:      3.0,
		AnomalyMinHistory: 5,
	}
}

// Input carries everything the gate needs to produce a final disposition.
type Input struct {
	Decision         model.BlendedDecision
	TenantID         string
	VendorNormalized string
	Amount           float64
	// Journal is the double-entry rendering of the transaction; nil when
	// the caller has not yet built one, in which case the balance check
	// passes vacuously.
	Journal *model.JournalEntry
	// CalibratedP is the calibrated posting probability. Nil is treated as
	// 0.0: an absent probability never auto-posts.
	CalibratedP *float64
	// LLMRequired is set when the blend wanted an LLM signal.
	LLMRequired bool
	// LLMUnavailableForBudget is set when that signal was withheld by the
	// budget guardrail rather than missing for any other reason.
	LLMUnavailableForBudget bool
	// RuleConflict is set when multiple active rules matched with
	// conflicting target accounts.
	RuleConflict bool
}

// Result is the gate's terminal disposition for one decision.
type Result struct {
	Route              model.Route
	Reason             model.NotAutoPostReason
	ExecutionOrder     []string
	EffectiveThreshold float64
}

// ExecutionOrderString renders the evaluated checks for the audit trail.
func (r Result) ExecutionOrderString() string {
	return strings.Join(r.ExecutionOrder, ",")
}

// AutoPostGate is the final arbiter over automatic posting. Checks run in a
// fixed order and the first failure wins; the taxonomy of blocking reasons
// is exhaustive and mutually exclusive because of that ordering.
//
// Note: a decision blocked here for budget_fallback blended exactly like one
// whose LLM signal timed out; only the gating reason differs. That asymmetry
// is deliberate pending product sign-off.
type AutoPostGate struct {
	store     service.Storage
	coldStart *ColdStartTracker
	budget    *BudgetGuardrail
	cfg       GateConfig
}

// NewAutoPostGate wires the gate to its collaborators.
func NewAutoPostGate(store service.Storage, coldStart *ColdStartTracker, budget *BudgetGuardrail, cfg GateConfig) *AutoPostGate {
	return &AutoPostGate{
		store:     store,
		coldStart: coldStart,
		budget:    budget,
		cfg:       cfg,
	}
}

// Evaluate produces the terminal disposition for a blended decision. It has
// no side effects; the caller persists the audit entry.
func (g *AutoPostGate) Evaluate(ctx context.Context, in Input) (Result, error) {
	result := Result{EffectiveThreshold: g.cfg.AutoPostMin}

	// 1. Balance check. Fatal to auto-post regardless of confidence.
	result.ExecutionOrder = append(result.ExecutionOrder, "imbalance")
	if in.Journal != nil && !in.Journal.Balanced() {
		result.Route = model.RouteHumanReview
		result.Reason = model.ReasonImbalance
		return result, nil
	}

	// 2. Budget fallback: the decision wanted an LLM opinion the guardrail
	// withheld.
	result.ExecutionOrder = append(result.ExecutionOrder, "budget_fallback")
	if in.LLMRequired && in.LLMUnavailableForBudget {
		status, err := g.budget.Check(ctx, in.TenantID)
		if err != nil {
			return result, fmt.Errorf("budget check failed: %w", err)
		}
		if status.ShouldFallback {
			result.Route = model.RouteNeedsReview
			result.Reason = model.ReasonBudgetFallback
			return result, nil
		}
	}

	// 3. Cold start. Overrides even a blend score above the threshold.
	result.ExecutionOrder = append(result.ExecutionOrder, "cold_start")
	if !g.coldStart.IsEligible(in.VendorNormalized) {
		result.Route = model.RouteNeedsReview
		result.Reason = model.ReasonColdStart
		return result, nil
	}

	// 4. Calibrated probability against the effective threshold.
	result.ExecutionOrder = append(result.ExecutionOrder, "below_threshold")
	threshold := g.cfg.AutoPostMin
	if in.TenantID != "" {
		tenant, err := g.store.GetTenant(ctx, in.TenantID)
		switch {
		case err == nil:
			if tenant.AutoPostMin != nil {
				threshold = *tenant.AutoPostMin
			}
		case !errors.Is(err, common.ErrNotFound):
			// An unconfigured tenant falls back to the global threshold; a
			// failing store must not.
			return result, fmt.Errorf("tenant threshold lookup failed: %w", err)
		}
	}
	result.EffectiveThreshold = threshold
	p := 0.0
	if in.CalibratedP != nil {
		p = *in.CalibratedP
	}
	if p < threshold {
		result.Route = model.RouteNeedsReview
		result.Reason = model.ReasonBelowThreshold
		return result, nil
	}

	// 5. Conflicting rule matches.
	result.ExecutionOrder = append(result.ExecutionOrder, "rule_conflict")
	if in.RuleConflict {
		result.Route = model.RouteNeedsReview
		result.Reason = model.ReasonRuleConflict
		return result, nil
	}

	// 6. Amount anomaly against the vendor's history.
	result.ExecutionOrder = append(result.ExecutionOrder, "anomaly")
	anomalous, err := g.isAnomalous(ctx, in.VendorNormalized, in.Amount)
	if err != nil {
		return result, fmt.Errorf("anomaly check failed: %w", err)
	}
	if anomalous {
		result.Route = model.RouteNeedsReview
		result.Reason = model.ReasonAnomaly
		return result, nil
	}

	result.ExecutionOrder = append(result.ExecutionOrder, "auto_post")
	result.Route = model.RouteAutoPost
	return result, nil
}

func (g *AutoPostGate) isAnomalous(ctx context.Context, vendorNormalized string, amount float64) (bool, error) {
	stats, err := g.store.GetVendorAmountStats(ctx, vendorNormalized)
	if err != nil {
		return false, err
	}
	if stats == nil || stats.Count < g.cfg.AnomalyMinHistory || stats.StdDev == 0 {
		return false, nil
	}
	return math.Abs(amount-stats.Mean) > g.cfg.AnomalySigma*stats.StdDev, nil
}
