// Package engine orchestrates the decision pipeline: signal providers feed
// the blender, the gate produces the terminal disposition, and every
// decision leaves one audit entry.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/blend"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/evidence"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/gate"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/rules"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

// Config holds engine tuning options.
type Config struct {
	// Workers bounds concurrent transaction evaluation in DecideAll.
	Workers int
	// LLMTimeout converts a stalled LLM call into an absent signal.
	LLMTimeout time.Duration
	// Retry governs how transient provider failures are retried before the
	// signal is declared absent. The LLM timeout bounds the whole sequence.
	Retry service.RetryOptions
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Workers:    8,
		LLMTimeout: 20 * time.Second,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Request is one transaction to decide, together with its double-entry
// rendering when the caller has one.
type Request struct {
	Transaction model.Transaction
	Journal     *model.JournalEntry
}

// DecisionEngine wires the pipeline together. Providers are injected at
// construction; a nil ML or LLM provider is an explicit capability gap, not
// a runtime surprise.
type DecisionEngine struct {
	storage    service.Storage
	blender    *blend.Blender
	matcher    *rules.Matcher
	ml         service.SignalProvider
	llm        service.SignalProvider
	gate       *gate.AutoPostGate
	coldStart  *gate.ColdStartTracker
	budget     *gate.BudgetGuardrail
	aggregator *evidence.Aggregator
	cfg        Config
}

// New creates a decision engine. matcher carries the current rule version;
// ml and llm may be nil when those providers are not configured.
func New(
	storage service.Storage,
	blender *blend.Blender,
	matcher *rules.Matcher,
	ml, llm service.SignalProvider,
	autoGate *gate.AutoPostGate,
	coldStart *gate.ColdStartTracker,
	budget *gate.BudgetGuardrail,
	aggregator *evidence.Aggregator,
	cfg Config,
) *DecisionEngine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = DefaultConfig().LLMTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultConfig().Retry
	}
	return &DecisionEngine{
		storage:    storage,
		blender:    blender,
		matcher:    matcher,
		ml:         ml,
		llm:        llm,
		gate:       autoGate,
		coldStart:  coldStart,
		budget:     budget,
		aggregator: aggregator,
		cfg:        cfg,
	}
}

// Decide runs one transaction through the full pipeline and persists its
// audit entry.
func (e *DecisionEngine) Decide(ctx context.Context, req Request) (*model.DecisionOutput, error) {
	txn := req.Transaction
	vendor := txn.VendorNormalized()

	ruleResult := e.matcher.Match(txn)
	ruleSig := e.matcher.Score(txn)
	mlSig := e.score(ctx, e.ml, txn)

	decision := e.blender.Blend(ruleSig, mlSig, nil, e.matcher.Version().VersionID)

	llmRequired := decision.Route == model.RouteLLMValidation
	llmBudgetBlocked := false

	if llmRequired && e.llm != nil {
		status, err := e.budget.Check(ctx, txn.TenantID)
		if err != nil {
			return nil, fmt.Errorf("budget check failed: %w", err)
		}
		if status.ShouldFallback {
			llmBudgetBlocked = true
			slog.Info("Skipping LLM validation, budget fallback active",
				"tenant", txn.TenantID,
				"txn", txn.ID,
				"reason", status.Reason)
		} else if llmSig := e.scoreLLM(ctx, txn); llmSig != nil {
			decision = e.blender.Blend(ruleSig, mlSig, llmSig, e.matcher.Version().VersionID)
		}
	}

	calibrated := decision.BlendScore
	gateResult, err := e.gate.Evaluate(ctx, gate.Input{
		Decision:                decision,
		TenantID:                txn.TenantID,
		VendorNormalized:        vendor,
		Amount:                  txn.Amount,
		Journal:                 req.Journal,
		CalibratedP:             &calibrated,
		LLMRequired:             llmRequired,
		LLMUnavailableForBudget: llmBudgetBlocked,
		RuleConflict:            ruleResult.Conflicting,
	})
	if err != nil {
		return nil, fmt.Errorf("gate evaluation failed: %w", err)
	}

	entry := &model.DecisionAuditEntry{
		Timestamp:         time.Now(),
		ID:                uuid.NewString(),
		TransactionID:     txn.ID,
		TenantID:          txn.TenantID,
		VendorNormalized:  vendor,
		FinalAccount:      decision.FinalAccount,
		Route:             gateResult.Route,
		NotAutoPostReason: gateResult.Reason,
		ExecutionOrder:    gateResult.ExecutionOrderString(),
		BlendScore:        decision.BlendScore,
		RuleVersion:       decision.RuleVersion,
	}
	if err := e.storage.SaveAuditEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to persist audit entry: %w", err)
	}

	// Record history the gating subsystem feeds on. The amount goes in
	// after evaluation so a transaction never smooths its own anomaly check.
	if vendor != "" {
		if err := e.storage.RecordVendorAmount(ctx, vendor, txn.Amount); err != nil {
			slog.Warn("Failed to record vendor amount", "vendor", vendor, "error", err)
		}
		if decision.FinalAccount != "" {
			if _, err := e.coldStart.AddLabel(ctx, vendor, decision.FinalAccount); err != nil {
				slog.Warn("Failed to record cold-start label", "vendor", vendor, "error", err)
			}
		}
	}

	return &model.DecisionOutput{
		FinalAccount:      decision.FinalAccount,
		Route:             gateResult.Route,
		NotAutoPostReason: gateResult.Reason,
		BlendScore:        decision.BlendScore,
		RuleVersion:       decision.RuleVersion,
		AuditRef:          entry.ID,
	}, nil
}

// DecideAll evaluates transactions concurrently with a bounded worker pool.
// Results align with the input order; a failed decision leaves a nil slot
// and the first error is returned after all workers finish.
func (e *DecisionEngine) DecideAll(ctx context.Context, reqs []Request) ([]*model.DecisionOutput, error) {
	outputs := make([]*model.DecisionOutput, len(reqs))
	errs := make([]error, len(reqs))

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outputs[i], errs[i] = e.Decide(ctx, reqs[i])
			}
		}()
	}

	for i := range reqs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return outputs, ctx.Err()
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}

// DedupeRequests drops repeat submissions of the same underlying
// transaction from a batch. Two requests collide when their transactions
// hash identically (same date, amount, counterparty, and tenant); the first
// occurrence is kept and the rest are returned for reporting.
func DedupeRequests(reqs []Request) (unique, dropped []Request) {
	seen := make(map[string]bool, len(reqs))
	unique = make([]Request, 0, len(reqs))
	for _, req := range reqs {
		hash := req.Transaction.GenerateHash()
		if seen[hash] {
			slog.Warn("Dropping duplicate transaction from batch",
				"txn", req.Transaction.ID,
				"counterparty", req.Transaction.Counterparty)
			dropped = append(dropped, req)
			continue
		}
		seen[hash] = true
		unique = append(unique, req)
	}
	return unique, dropped
}

// RecordCorrection applies a human correction to a reviewed decision: it
// marks the audit entry, feeds the aggregator, and updates the vendor's
// cold-start history with the corrected account.
func (e *DecisionEngine) RecordCorrection(ctx context.Context, auditRef, account string, confidence float64) error {
	entry, err := e.storage.GetAuditEntry(ctx, auditRef)
	if err != nil {
		return fmt.Errorf("failed to load audit entry: %w", err)
	}

	action := "corrected:" + account
	if account == entry.FinalAccount {
		action = "confirmed:" + account
	}
	if err := e.storage.RecordUserAction(ctx, auditRef, action); err != nil {
		return err
	}

	if entry.VendorNormalized == "" {
		return nil
	}

	ev := model.RuleEvidence{
		ObservedAt:       time.Now(),
		TransactionID:    entry.TransactionID,
		VendorNormalized: entry.VendorNormalized,
		Account:          account,
		Source:           "user_correction",
		Confidence:       confidence,
	}

	if _, err := e.aggregator.AddEvidence(ctx, ev); err != nil {
		return err
	}
	if _, err := e.coldStart.AddLabel(ctx, ev.VendorNormalized, account); err != nil {
		return err
	}
	return nil
}

// score asks one provider for an opinion, mapping terminal failure to
// absence after the retry budget is spent.
func (e *DecisionEngine) score(ctx context.Context, provider service.SignalProvider, txn model.Transaction) *model.SignalScore {
	if provider == nil {
		return nil
	}
	sig, err := e.scoreWithRetry(ctx, provider, txn)
	if err != nil {
		slog.Warn("Signal provider failed, treating as absent",
			"txn", txn.ID,
			"error", err)
		return nil
	}
	return sig
}

// scoreWithRetry drives one provider call through the retry helper, so a
// rate limit or a failure marked transient gets another chance before the
// blend loses the signal.
func (e *DecisionEngine) scoreWithRetry(ctx context.Context, provider service.SignalProvider, txn model.Transaction) (*model.SignalScore, error) {
	var sig *model.SignalScore
	err := common.WithRetry(ctx, func() error {
		var scoreErr error
		sig, scoreErr = provider.Score(ctx, txn)
		return scoreErr
	}, e.cfg.Retry)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// scoreLLM wraps the LLM provider in a bounded timeout and logs the call
// into the budget ledger.
func (e *DecisionEngine) scoreLLM(ctx context.Context, txn model.Transaction) *model.SignalScore {
	llmCtx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()

	sig, err := e.scoreWithRetry(llmCtx, e.llm, txn)
	if err != nil {
		slog.Warn("LLM signal unavailable, redistributing weight",
			"txn", txn.ID,
			"error", err)
		return nil
	}
	if sig == nil {
		return nil
	}

	tokens, cost := llmUsage(sig)
	if err := e.budget.LogCall(ctx, txn.TenantID, txn.ID, tokens, cost); err != nil {
		slog.Warn("Failed to log LLM call", "txn", txn.ID, "error", err)
	}
	return sig
}

// llmUsage extracts token and cost usage a provider reports via metadata.
func llmUsage(sig *model.SignalScore) (int, float64) {
	tokens, _ := strconv.Atoi(sig.Metadata["tokens"])
	cost, _ := strconv.ParseFloat(sig.Metadata["cost_usd"], 64)
	return tokens, cost
}
