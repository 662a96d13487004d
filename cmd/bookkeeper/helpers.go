package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/blend"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/engine"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/evidence"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/gate"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/rules"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/storage"
)

// openStorage opens the configured database and verifies it is migrated.
func openStorage() (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".local", "share", "bookkeeper", "bookkeeper.db")
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, common.NewUserError("failed to open database", err)
	}
	return store, nil
}

func loadBlendConfig() blend.Config {
	cfg := blend.DefaultConfig()
	if viper.IsSet("blend.w_rules") {
		cfg.WRules = viper.GetFloat64("blend.w_rules")
	}
	if viper.IsSet("blend.w_ml") {
		cfg.WML = viper.GetFloat64("blend.w_ml")
	}
	if viper.IsSet("blend.w_llm") {
		cfg.WLLM = viper.GetFloat64("blend.w_llm")
	}
	if viper.IsSet("blend.auto_post_min") {
		cfg.AutoPostMin = viper.GetFloat64("blend.auto_post_min")
	}
	if viper.IsSet("blend.review_min") {
		cfg.ReviewMin = viper.GetFloat64("blend.review_min")
	}
	return cfg
}

func loadGateConfig(blendCfg blend.Config) gate.GateConfig {
	cfg := gate.DefaultGateConfig()
	cfg.AutoPostMin = blendCfg.AutoPostMin
	if viper.IsSet("gate.anomaly_sigma") {
		cfg.AnomalySigma = viper.GetFloat64("gate.anomaly_sigma")
	}
	if viper.IsSet("gate.anomaly_min_history") {
		cfg.AnomalyMinHistory = viper.GetInt64("gate.anomaly_min_history")
	}
	return cfg
}

func loadBudgetConfig() gate.BudgetConfig {
	cfg := gate.DefaultBudgetConfig()
	if viper.IsSet("budget.call_ratio_cap") {
		cfg.CallRatioCap = viper.GetFloat64("budget.call_ratio_cap")
	}
	if viper.IsSet("budget.window") {
		cfg.Window = viper.GetDuration("budget.window")
	}
	if viper.IsSet("budget.min_window_decisions") {
		cfg.MinWindowDecisions = viper.GetInt64("budget.min_window_decisions")
	}
	if viper.IsSet("budget.tenant_cap_usd") {
		cfg.TenantCapUSD = viper.GetFloat64("budget.tenant_cap_usd")
	}
	if viper.IsSet("budget.global_cap_usd") {
		cfg.GlobalCapUSD = viper.GetFloat64("budget.global_cap_usd")
	}
	return cfg
}

func loadPromotionPolicy() model.PromotionPolicy {
	policy := evidence.DefaultPromotionPolicy()
	if viper.IsSet("promotion.min_observations") {
		policy.MinObservations = viper.GetInt64("promotion.min_observations")
	}
	if viper.IsSet("promotion.min_confidence") {
		policy.MinConfidence = viper.GetFloat64("promotion.min_confidence")
	}
	if viper.IsSet("promotion.max_variance") {
		policy.MaxVariance = viper.GetFloat64("promotion.max_variance")
	}
	if viper.IsSet("promotion.conf_delta_min") {
		policy.ConfDeltaMin = viper.GetFloat64("promotion.conf_delta_min")
	}
	return policy
}

func loadEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if viper.IsSet("engine.workers") {
		cfg.Workers = viper.GetInt("engine.workers")
	}
	if viper.IsSet("llm.timeout") {
		cfg.LLMTimeout = viper.GetDuration("llm.timeout")
	}
	if viper.IsSet("llm.retry_attempts") {
		cfg.Retry.MaxAttempts = viper.GetInt("llm.retry_attempts")
	}
	if viper.IsSet("llm.retry_initial_delay") {
		cfg.Retry.InitialDelay = viper.GetDuration("llm.retry_initial_delay")
	}
	return cfg
}

// buildEngine wires the full pipeline over the current rule version. The
// classifier and LLM validator run upstream; their scores arrive embedded in
// the decide input and are served through static providers.
func buildEngine(ctx context.Context, store *storage.SQLiteStorage, ml, llm service.SignalProvider) (*engine.DecisionEngine, error) {
	current, err := store.GetCurrentRuleVersion(ctx)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewUserError("no rule version exists yet; create one with 'bookkeeper rules import'", err)
		}
		return nil, err
	}

	blendCfg := loadBlendConfig()
	blender := blend.New(blendCfg)
	matcher := rules.NewMatcher(current)

	coldStart := gate.NewColdStartTracker(store)
	if err := coldStart.Hydrate(ctx); err != nil {
		return nil, err
	}

	budget := gate.NewBudgetGuardrail(store, loadBudgetConfig())
	autoGate := gate.NewAutoPostGate(store, coldStart, budget, loadGateConfig(blendCfg))
	aggregator := evidence.NewAggregator(store)

	return engine.New(store, blender, matcher, ml, llm, autoGate, coldStart, budget, aggregator, loadEngineConfig()), nil
}

// sinceFlag parses a --since duration into an absolute time.
func sinceFlag(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --since duration %q: %w", raw, err)
	}
	t := time.Now().Add(-d)
	return &t, nil
}
