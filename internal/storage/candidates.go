package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

const candidateColumns = `
	id, vendor_normalized, suggested_account, obs_count, avg_confidence, m2,
	last_seen_at, status, decided_by, decided_at, reject_reason, promoted_version`

// GetCandidate retrieves a candidate by its (vendor, account) key.
func (s *SQLiteStorage) GetCandidate(ctx context.Context, vendorNormalized, account string) (*model.RuleCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(vendorNormalized, "vendorNormalized"); err != nil {
		return nil, err
	}
	if err := validateString(account, "account"); err != nil {
		return nil, err
	}

	return scanCandidate(s.db.QueryRowContext(ctx, `
		SELECT `+candidateColumns+`
		FROM rule_candidates
		WHERE vendor_normalized = ? AND suggested_account = ?
	`, vendorNormalized, account))
}

// GetCandidateByID retrieves a candidate by id.
func (s *SQLiteStorage) GetCandidateByID(ctx context.Context, id int64) (*model.RuleCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return scanCandidate(s.db.QueryRowContext(ctx, `
		SELECT `+candidateColumns+`
		FROM rule_candidates
		WHERE id = ?
	`, id))
}

// UpsertCandidate inserts or updates a candidate and returns the stored row
// with its id populated.
func (s *SQLiteStorage) UpsertCandidate(ctx context.Context, candidate *model.RuleCandidate) (*model.RuleCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, fmt.Errorf("%w: candidate", ErrNilParameter)
	}
	if err := validateCandidateStatus(candidate.Status); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_candidates (
			vendor_normalized, suggested_account, obs_count, avg_confidence, m2,
			last_seen_at, status, decided_by, decided_at, reject_reason, promoted_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vendor_normalized, suggested_account) DO UPDATE SET
			obs_count = excluded.obs_count,
			avg_confidence = excluded.avg_confidence,
			m2 = excluded.m2,
			last_seen_at = excluded.last_seen_at,
			status = excluded.status,
			decided_by = excluded.decided_by,
			decided_at = excluded.decided_at,
			reject_reason = excluded.reject_reason,
			promoted_version = excluded.promoted_version
	`,
		candidate.VendorNormalized,
		candidate.SuggestedAccount,
		candidate.ObsCount,
		candidate.AvgConfidence,
		candidate.M2,
		candidate.LastSeenAt,
		candidate.Status,
		nullString(candidate.DecidedBy),
		candidate.DecidedAt,
		nullString(candidate.RejectReason),
		candidate.PromotedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert candidate: %w", err)
	}

	return s.GetCandidate(ctx, candidate.VendorNormalized, candidate.SuggestedAccount)
}

// ListCandidates returns candidates with the given status, most recently
// seen first. An empty status lists everything.
func (s *SQLiteStorage) ListCandidates(ctx context.Context, status model.CandidateStatus) ([]model.RuleCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + candidateColumns + ` FROM rule_candidates`
	args := []any{}
	if status != "" {
		if err := validateCandidateStatus(status); err != nil {
			return nil, err
		}
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY last_seen_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []model.RuleCandidate
	for rows.Next() {
		candidate, err := scanCandidateRow(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, *candidate)
	}
	return candidates, rows.Err()
}

// AppendEvidence appends one raw evidence observation for a candidate.
func (s *SQLiteStorage) AppendEvidence(ctx context.Context, candidateID int64, evidence *model.RuleEvidence) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if evidence == nil {
		return fmt.Errorf("%w: evidence", ErrNilParameter)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_evidence (
			candidate_id, transaction_id, vendor_normalized, account, confidence, source, observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		candidateID,
		nullString(evidence.TransactionID),
		evidence.VendorNormalized,
		evidence.Account,
		evidence.Confidence,
		nullString(evidence.Source),
		evidence.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append evidence: %w", err)
	}
	return nil
}

// ListEvidence returns a candidate's evidence in observation order.
func (s *SQLiteStorage) ListEvidence(ctx context.Context, candidateID int64) ([]model.RuleEvidence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, vendor_normalized, account, confidence, source, observed_at
		FROM rule_evidence
		WHERE candidate_id = ?
		ORDER BY id ASC
	`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var evidence []model.RuleEvidence
	for rows.Next() {
		var (
			ev     model.RuleEvidence
			txnID  sql.NullString
			source sql.NullString
		)
		if err := rows.Scan(&txnID, &ev.VendorNormalized, &ev.Account, &ev.Confidence, &source, &ev.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		ev.TransactionID = txnID.String
		ev.Source = source.String
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row *sql.Row) (*model.RuleCandidate, error) {
	candidate, err := scanCandidateRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return candidate, err
}

func scanCandidateRow(row rowScanner) (*model.RuleCandidate, error) {
	var (
		candidate    model.RuleCandidate
		lastSeen     sql.NullTime
		decidedBy    sql.NullString
		decidedAt    sql.NullTime
		rejectReason sql.NullString
		promotedVer  sql.NullInt64
	)

	err := row.Scan(
		&candidate.ID,
		&candidate.VendorNormalized,
		&candidate.SuggestedAccount,
		&candidate.ObsCount,
		&candidate.AvgConfidence,
		&candidate.M2,
		&lastSeen,
		&candidate.Status,
		&decidedBy,
		&decidedAt,
		&rejectReason,
		&promotedVer,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan candidate: %w", err)
	}

	candidate.LastSeenAt = lastSeen.Time
	candidate.DecidedBy = decidedBy.String
	candidate.RejectReason = rejectReason.String
	if decidedAt.Valid {
		candidate.DecidedAt = &decidedAt.Time
	}
	if promotedVer.Valid {
		candidate.PromotedVersion = &promotedVer.Int64
	}
	return &candidate, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
