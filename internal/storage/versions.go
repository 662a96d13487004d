package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

// CreateRuleVersion appends a new immutable version. The AUTOINCREMENT
// version id makes "read current, write next" atomic: two concurrent
// promotions get distinct ids and the later insert simply becomes current.
func (s *SQLiteStorage) CreateRuleVersion(ctx context.Context, version *model.RuleVersion) (*model.RuleVersion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRuleVersion(version); err != nil {
		return nil, err
	}

	rulesJSON, err := json.Marshal(version.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}

	createdAt := version.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_versions (created_at, author, notes, rule_count, rules)
		VALUES (?, ?, ?, ?, ?)
	`, createdAt, version.Author, version.Notes, len(version.Rules), string(rulesJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to insert rule version: %w", err)
	}

	versionID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new version id: %w", err)
	}

	created := *version
	created.VersionID = versionID
	created.CreatedAt = createdAt
	created.RuleCount = len(version.Rules)
	return &created, nil
}

// GetCurrentRuleVersion returns the most recently created version.
func (s *SQLiteStorage) GetCurrentRuleVersion(ctx context.Context) (*model.RuleVersion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.scanVersion(s.db.QueryRowContext(ctx, `
		SELECT version_id, created_at, author, notes, rule_count, rules
		FROM rule_versions
		ORDER BY version_id DESC
		LIMIT 1
	`))
}

// GetRuleVersion returns one historical version by id.
func (s *SQLiteStorage) GetRuleVersion(ctx context.Context, versionID int64) (*model.RuleVersion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.scanVersion(s.db.QueryRowContext(ctx, `
		SELECT version_id, created_at, author, notes, rule_count, rules
		FROM rule_versions
		WHERE version_id = ?
	`, versionID))
}

// ListRuleVersions returns versions newest-first, without their rule bodies
// hydrated beyond the stored JSON.
func (s *SQLiteStorage) ListRuleVersions(ctx context.Context, limit int) ([]model.RuleVersion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, created_at, author, notes, rule_count, rules
		FROM rule_versions
		ORDER BY version_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []model.RuleVersion
	for rows.Next() {
		var (
			version   model.RuleVersion
			notes     sql.NullString
			rulesJSON string
		)
		if err := rows.Scan(&version.VersionID, &version.CreatedAt, &version.Author, &notes, &version.RuleCount, &rulesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan rule version: %w", err)
		}
		version.Notes = notes.String
		if err := json.Unmarshal([]byte(rulesJSON), &version.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules for version %d: %w", version.VersionID, err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (s *SQLiteStorage) scanVersion(row *sql.Row) (*model.RuleVersion, error) {
	var (
		version   model.RuleVersion
		notes     sql.NullString
		rulesJSON string
	)

	err := row.Scan(&version.VersionID, &version.CreatedAt, &version.Author, &notes, &version.RuleCount, &rulesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule version: %w", err)
	}

	version.Notes = notes.String
	if err := json.Unmarshal([]byte(rulesJSON), &version.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules for version %d: %w", version.VersionID, err)
	}
	return &version, nil
}
