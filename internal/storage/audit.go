package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

// SaveAuditEntry persists one write-once audit entry.
func (s *SQLiteStorage) SaveAuditEntry(ctx context.Context, entry *model.DecisionAuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if err := validateString(entry.ID, "entry.ID"); err != nil {
		return err
	}

	createdAt := entry.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, transaction_id, tenant_id, vendor_normalized, final_account, blend_score, route,
			not_auto_post_reason, execution_order, rule_version, user_action, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.TransactionID,
		entry.TenantID,
		nullString(entry.VendorNormalized),
		nullString(entry.FinalAccount),
		entry.BlendScore,
		entry.Route,
		nullString(string(entry.NotAutoPostReason)),
		nullString(entry.ExecutionOrder),
		entry.RuleVersion,
		nullString(entry.UserAction),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit entry: %w", err)
	}
	return nil
}

// GetAuditEntry retrieves one audit entry by id.
func (s *SQLiteStorage) GetAuditEntry(ctx context.Context, id string) (*model.DecisionAuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	entry, err := scanAuditEntry(s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, tenant_id, vendor_normalized, final_account, blend_score, route,
		       not_auto_post_reason, execution_order, rule_version, user_action, created_at
		FROM audit_entries
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return entry, err
}

// GetAuditEntries queries the audit trail by tenant, time, reason, or route.
func (s *SQLiteStorage) GetAuditEntries(ctx context.Context, filter service.AuditFilter) ([]model.DecisionAuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, transaction_id, tenant_id, vendor_normalized, final_account, blend_score, route,
		       not_auto_post_reason, execution_order, rule_version, user_action, created_at
		FROM audit_entries
		WHERE 1=1`
	args := []any{}

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += ` AND created_at < ?`
		args = append(args, *filter.Until)
	}
	if filter.Reason != "" {
		query += ` AND not_auto_post_reason = ?`
		args = append(args, filter.Reason)
	}
	if filter.Route != "" {
		query += ` AND route = ?`
		args = append(args, filter.Route)
	}

	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.DecisionAuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// RecordUserAction sets the user action on an audit entry exactly once.
// Entries with an action already recorded stay as written.
func (s *SQLiteStorage) RecordUserAction(ctx context.Context, auditID, action string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(auditID, "auditID"); err != nil {
		return err
	}
	if err := validateString(action, "action"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE audit_entries
		SET user_action = ?
		WHERE id = ? AND user_action IS NULL
	`, action, auditID)
	if err != nil {
		return fmt.Errorf("failed to record user action: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check user action update: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetAuditEntry(ctx, auditID); err != nil {
			return err
		}
		return fmt.Errorf("%w: audit entry %s already has a user action", common.ErrInvalidState, auditID)
	}
	return nil
}

// CountDecisions counts distinct transactions decided for a tenant since a
// point in time, the denominator of the budget call-ratio check. A
// re-decided transaction leaves extra audit rows but is still one decision.
// An empty tenant counts globally.
func (s *SQLiteStorage) CountDecisions(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	query := `SELECT COUNT(DISTINCT transaction_id) FROM audit_entries WHERE created_at >= ?`
	args := []any{since}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count decisions: %w", err)
	}
	return count, nil
}

func scanAuditEntry(row rowScanner) (*model.DecisionAuditEntry, error) {
	var (
		entry      model.DecisionAuditEntry
		vendor     sql.NullString
		account    sql.NullString
		reason     sql.NullString
		execOrder  sql.NullString
		userAction sql.NullString
	)

	err := row.Scan(
		&entry.ID,
		&entry.TransactionID,
		&entry.TenantID,
		&vendor,
		&account,
		&entry.BlendScore,
		&entry.Route,
		&reason,
		&execOrder,
		&entry.RuleVersion,
		&userAction,
		&entry.Timestamp,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.VendorNormalized = vendor.String
	entry.FinalAccount = account.String
	entry.NotAutoPostReason = model.NotAutoPostReason(reason.String)
	entry.ExecutionOrder = execOrder.String
	entry.UserAction = userAction.String
	return &entry, nil
}
