package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

// GuardrailReason identifies which budget condition breached.
type GuardrailReason string

// Guardrail breach reasons, in check precedence order.
const (
	ReasonCallRate     GuardrailReason = "call_rate_exceeded"
	ReasonTenantBudget GuardrailReason = "tenant_budget_exceeded"
	ReasonGlobalBudget GuardrailReason = "global_budget_exceeded"
)

// GuardrailStatus is the result of a budget check.
type GuardrailStatus struct {
	Reason         GuardrailReason
	Scope          string // "tenant" or "global"
	ShouldFallback bool
}

// BudgetConfig holds guardrail caps.
type BudgetConfig struct {
	// CallRatioCap is the maximum ratio of LLM calls to decisions over the
	// trailing window. Catches runaway multi-call loops.
	CallRatioCap float64
	// Window is the trailing period for the call-ratio check.
	Window time.Duration
	// MinWindowDecisions is the decision count below which the call-ratio
	// check abstains; a ratio over a handful of decisions is noise.
	MinWindowDecisions int64
	// TenantCapUSD is the default per-tenant spend cap; a tenant row may
	// override it.
	TenantCapUSD float64
	// GlobalCapUSD is the platform-wide spend cap.
	GlobalCapUSD float64
}

// DefaultBudgetConfig returns the default guardrail configuration.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		CallRatioCap:       0.30,
		Window:             time.Hour,
		MinWindowDecisions: 10,
		TenantCapUSD:       50.0,
		GlobalCapUSD:       500.0,
	}
}

// BudgetGuardrail tracks LLM call rate and spend against caps, producing a
// fallback flag that suppresses further LLM calls for the breached scope.
// Rules/ML-only decisions continue uninterrupted during fallback.
type BudgetGuardrail struct {
	store service.Storage
	cfg   BudgetConfig
}

// NewBudgetGuardrail creates a guardrail backed by the given storage.
func NewBudgetGuardrail(store service.Storage, cfg BudgetConfig) *BudgetGuardrail {
	return &BudgetGuardrail{store: store, cfg: cfg}
}

// LogCall appends one LLM call to the rolling ledger.
func (g *BudgetGuardrail) LogCall(ctx context.Context, tenantID, txnID string, tokens int, costUSD float64) error {
	call := &model.LLMCall{
		Timestamp:     time.Now(),
		TenantID:      tenantID,
		TransactionID: txnID,
		Tokens:        tokens,
		CostUSD:       costUSD,
	}
	if err := g.store.LogLLMCall(ctx, call); err != nil {
		return fmt.Errorf("failed to log llm call: %w", err)
	}
	return nil
}

// Check evaluates the three breach conditions in precedence order: call
// ratio, tenant spend, global spend. The first breach wins.
func (g *BudgetGuardrail) Check(ctx context.Context, tenantID string) (GuardrailStatus, error) {
	since := time.Now().Add(-g.cfg.Window)

	calls, err := g.store.CountLLMCalls(ctx, tenantID, since)
	if err != nil {
		return GuardrailStatus{}, fmt.Errorf("failed to count llm calls: %w", err)
	}
	decisions, err := g.store.CountDecisions(ctx, tenantID, since)
	if err != nil {
		return GuardrailStatus{}, fmt.Errorf("failed to count decisions: %w", err)
	}
	if decisions >= g.cfg.MinWindowDecisions && g.cfg.CallRatioCap > 0 {
		ratio := float64(calls) / float64(decisions)
		if ratio > g.cfg.CallRatioCap {
			slog.Warn("LLM call ratio breached",
				"tenant", tenantID,
				"calls", calls,
				"decisions", decisions,
				"ratio", ratio,
				"cap", g.cfg.CallRatioCap)
			return GuardrailStatus{ShouldFallback: true, Reason: ReasonCallRate, Scope: "tenant"}, nil
		}
	}

	tenantSpend, err := g.store.SumLLMSpend(ctx, tenantID)
	if err != nil {
		return GuardrailStatus{}, fmt.Errorf("failed to sum tenant spend: %w", err)
	}
	tenantCap := g.cfg.TenantCapUSD
	if tenantID != "" {
		tenant, terr := g.store.GetTenant(ctx, tenantID)
		switch {
		case terr == nil:
			if tenant.SpendCapUSD != nil {
				tenantCap = *tenant.SpendCapUSD
			}
		case !errors.Is(terr, common.ErrNotFound):
			return GuardrailStatus{}, fmt.Errorf("tenant cap lookup failed: %w", terr)
		}
	}
	if tenantCap > 0 && tenantSpend > tenantCap {
		slog.Warn("Tenant LLM budget breached",
			"tenant", tenantID,
			"spend_usd", tenantSpend,
			"cap_usd", tenantCap)
		return GuardrailStatus{ShouldFallback: true, Reason: ReasonTenantBudget, Scope: "tenant"}, nil
	}

	globalSpend, err := g.store.SumLLMSpend(ctx, "")
	if err != nil {
		return GuardrailStatus{}, fmt.Errorf("failed to sum global spend: %w", err)
	}
	if g.cfg.GlobalCapUSD > 0 && globalSpend > g.cfg.GlobalCapUSD {
		slog.Warn("Global LLM budget breached",
			"spend_usd", globalSpend,
			"cap_usd", g.cfg.GlobalCapUSD)
		return GuardrailStatus{ShouldFallback: true, Reason: ReasonGlobalBudget, Scope: "global"}, nil
	}

	return GuardrailStatus{}, nil
}

// Reset clears the fallback for a scope by moving its spend accounting
// forward to now. An empty tenant ID resets the global scope.
func (g *BudgetGuardrail) Reset(ctx context.Context, tenantID string) error {
	if err := g.store.SetBudgetResetAt(ctx, tenantID, time.Now()); err != nil {
		return fmt.Errorf("failed to reset budget scope: %w", err)
	}
	slog.Info("Budget scope reset", "tenant", tenantID)
	return nil
}
