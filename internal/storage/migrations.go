package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Rule governance schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS rule_versions (
					version_id INTEGER PRIMARY KEY AUTOINCREMENT,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					author TEXT NOT NULL,
					notes TEXT,
					rule_count INTEGER NOT NULL,
					rules TEXT NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS rule_candidates (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					vendor_normalized TEXT NOT NULL,
					suggested_account TEXT NOT NULL,
					obs_count INTEGER NOT NULL DEFAULT 0,
					avg_confidence REAL NOT NULL DEFAULT 0,
					m2 REAL NOT NULL DEFAULT 0,
					last_seen_at DATETIME,
					status TEXT NOT NULL DEFAULT 'pending',
					decided_by TEXT,
					decided_at DATETIME,
					reject_reason TEXT,
					promoted_version INTEGER,
					UNIQUE(vendor_normalized, suggested_account)
				)`,
				`CREATE INDEX idx_candidates_status ON rule_candidates(status)`,

				`CREATE TABLE IF NOT EXISTS rule_evidence (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					candidate_id INTEGER NOT NULL,
					transaction_id TEXT,
					vendor_normalized TEXT NOT NULL,
					account TEXT NOT NULL,
					confidence REAL NOT NULL,
					source TEXT,
					observed_at DATETIME NOT NULL,
					FOREIGN KEY (candidate_id) REFERENCES rule_candidates(id)
				)`,
				`CREATE INDEX idx_evidence_candidate ON rule_evidence(candidate_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Audit trail and vendor history",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS audit_entries (
					id TEXT PRIMARY KEY,
					transaction_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL,
					vendor_normalized TEXT,
					final_account TEXT,
					blend_score REAL NOT NULL,
					route TEXT NOT NULL,
					not_auto_post_reason TEXT,
					execution_order TEXT,
					rule_version INTEGER,
					user_action TEXT,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_audit_tenant ON audit_entries(tenant_id)`,
				`CREATE INDEX idx_audit_created ON audit_entries(created_at)`,
				`CREATE INDEX idx_audit_reason ON audit_entries(not_auto_post_reason)`,

				`CREATE TABLE IF NOT EXISTS vendor_labels (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					vendor_normalized TEXT NOT NULL,
					account TEXT NOT NULL,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_vendor_labels_vendor ON vendor_labels(vendor_normalized)`,

				`CREATE TABLE IF NOT EXISTS vendor_amounts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					vendor_normalized TEXT NOT NULL,
					amount REAL NOT NULL,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_vendor_amounts_vendor ON vendor_amounts(vendor_normalized)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Budget ledger and tenant configuration",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS llm_calls (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id TEXT NOT NULL,
					transaction_id TEXT,
					tokens INTEGER NOT NULL DEFAULT 0,
					cost_usd REAL NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_llm_calls_tenant ON llm_calls(tenant_id)`,
				`CREATE INDEX idx_llm_calls_created ON llm_calls(created_at)`,

				`CREATE TABLE IF NOT EXISTS tenants (
					id TEXT PRIMARY KEY,
					auto_post_min REAL,
					spend_cap_usd REAL,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS budget_resets (
					scope TEXT PRIMARY KEY,
					reset_at DATETIME NOT NULL
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}

		slog.Info("Applying migration",
			"version", migration.Version,
			"description", migration.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}
