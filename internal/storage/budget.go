package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

// globalScope keys the global row in budget_resets.
const globalScope = "__global__"

func budgetScope(tenantID string) string {
	if tenantID == "" {
		return globalScope
	}
	return tenantID
}

// LogLLMCall appends one call to the budget ledger.
func (s *SQLiteStorage) LogLLMCall(ctx context.Context, call *model.LLMCall) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if call == nil {
		return fmt.Errorf("%w: call", ErrNilParameter)
	}

	createdAt := call.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_calls (tenant_id, transaction_id, tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, call.TenantID, nullString(call.TransactionID), call.Tokens, call.CostUSD, createdAt)
	if err != nil {
		return fmt.Errorf("failed to log llm call: %w", err)
	}
	return nil
}

// SumLLMSpend sums spend for a tenant since its last budget reset. An empty
// tenant ID sums the global scope since the global reset.
func (s *SQLiteStorage) SumLLMSpend(ctx context.Context, tenantID string) (float64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	resetAt, err := s.budgetResetAt(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM llm_calls WHERE created_at >= ?`
	args := []any{resetAt}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}

	var spend float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&spend); err != nil {
		return 0, fmt.Errorf("failed to sum llm spend: %w", err)
	}
	return spend, nil
}

// CountLLMCalls counts calls for a tenant since a point in time.
func (s *SQLiteStorage) CountLLMCalls(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM llm_calls WHERE created_at >= ?`
	args := []any{since}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count llm calls: %w", err)
	}
	return count, nil
}

// SetBudgetResetAt moves the spend accounting origin for a scope.
func (s *SQLiteStorage) SetBudgetResetAt(ctx context.Context, tenantID string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_resets (scope, reset_at) VALUES (?, ?)
		ON CONFLICT(scope) DO UPDATE SET reset_at = excluded.reset_at
	`, budgetScope(tenantID), at)
	if err != nil {
		return fmt.Errorf("failed to set budget reset: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) budgetResetAt(ctx context.Context, tenantID string) (time.Time, error) {
	var resetAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT reset_at FROM budget_resets WHERE scope = ?
	`, budgetScope(tenantID)).Scan(&resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read budget reset: %w", err)
	}
	return resetAt, nil
}

// GetTenant retrieves tenant configuration overrides.
func (s *SQLiteStorage) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var (
		tenant      model.Tenant
		autoPostMin sql.NullFloat64
		spendCap    sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, auto_post_min, spend_cap_usd, updated_at FROM tenants WHERE id = ?
	`, id).Scan(&tenant.ID, &autoPostMin, &spendCap, &tenant.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if autoPostMin.Valid {
		tenant.AutoPostMin = &autoPostMin.Float64
	}
	if spendCap.Valid {
		tenant.SpendCapUSD = &spendCap.Float64
	}
	return &tenant, nil
}

// SaveTenant inserts or updates tenant configuration.
func (s *SQLiteStorage) SaveTenant(ctx context.Context, tenant *model.Tenant) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if tenant == nil {
		return fmt.Errorf("%w: tenant", ErrNilParameter)
	}
	if err := validateString(tenant.ID, "tenant.ID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, auto_post_min, spend_cap_usd, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			auto_post_min = excluded.auto_post_min,
			spend_cap_usd = excluded.spend_cap_usd,
			updated_at = CURRENT_TIMESTAMP
	`, tenant.ID, tenant.AutoPostMin, tenant.SpendCapUSD)
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}
