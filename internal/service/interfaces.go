// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

// SignalProvider is the contract every signal source implements. Absence or
// failure of a score is represented as (nil, nil) — providers never abort
// the pipeline with an error for "no opinion".
type SignalProvider interface {
	Score(ctx context.Context, txn model.Transaction) (*model.SignalScore, error)
}

// AuditFilter defines filtering options for audit queries.
type AuditFilter struct {
	Since    *time.Time
	Until    *time.Time
	TenantID string
	Reason   model.NotAutoPostReason
	Route    model.Route
	Limit    int
}

// VendorAmountStats summarizes a vendor's observed transaction amounts,
// used by the anomaly gate check.
type VendorAmountStats struct {
	Count  int64
	Mean   float64
	StdDev float64
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Rule version operations. Versions are append-only; CreateRuleVersion
	// assigns a monotonically increasing version ID and never updates rows.
	CreateRuleVersion(ctx context.Context, version *model.RuleVersion) (*model.RuleVersion, error)
	GetCurrentRuleVersion(ctx context.Context) (*model.RuleVersion, error)
	GetRuleVersion(ctx context.Context, versionID int64) (*model.RuleVersion, error)
	ListRuleVersions(ctx context.Context, limit int) ([]model.RuleVersion, error)

	// Candidate and evidence operations.
	GetCandidate(ctx context.Context, vendorNormalized, account string) (*model.RuleCandidate, error)
	GetCandidateByID(ctx context.Context, id int64) (*model.RuleCandidate, error)
	UpsertCandidate(ctx context.Context, candidate *model.RuleCandidate) (*model.RuleCandidate, error)
	ListCandidates(ctx context.Context, status model.CandidateStatus) ([]model.RuleCandidate, error)
	AppendEvidence(ctx context.Context, candidateID int64, evidence *model.RuleEvidence) error
	ListEvidence(ctx context.Context, candidateID int64) ([]model.RuleEvidence, error)

	// Audit operations. SaveAuditEntry is insert-only; RecordUserAction may
	// set the user action on an entry exactly once.
	SaveAuditEntry(ctx context.Context, entry *model.DecisionAuditEntry) error
	GetAuditEntry(ctx context.Context, id string) (*model.DecisionAuditEntry, error)
	GetAuditEntries(ctx context.Context, filter AuditFilter) ([]model.DecisionAuditEntry, error)
	RecordUserAction(ctx context.Context, auditID, action string) error

	// Cold-start label history, append-only per vendor.
	AppendVendorLabel(ctx context.Context, vendorNormalized, account string) error
	GetVendorLabels(ctx context.Context, vendorNormalized string) ([]string, error)
	ListVendorLabels(ctx context.Context) (map[string][]string, error)

	// Vendor amount history for anomaly detection.
	RecordVendorAmount(ctx context.Context, vendorNormalized string, amount float64) error
	GetVendorAmountStats(ctx context.Context, vendorNormalized string) (*VendorAmountStats, error)

	// Budget ledger operations. An empty tenant ID addresses the global scope.
	LogLLMCall(ctx context.Context, call *model.LLMCall) error
	SumLLMSpend(ctx context.Context, tenantID string) (float64, error)
	CountLLMCalls(ctx context.Context, tenantID string, since time.Time) (int64, error)
	CountDecisions(ctx context.Context, tenantID string, since time.Time) (int64, error)
	SetBudgetResetAt(ctx context.Context, tenantID string, at time.Time) error

	// Tenant configuration.
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	SaveTenant(ctx context.Context, tenant *model.Tenant) error

	// Database management.
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
