package model

import "time"

// Route is the provisional or final disposition of a decision.
type Route string

// Route constants.
const (
	RouteAutoPost      Route = "auto_post"
	RouteNeedsReview   Route = "needs_review"
	RouteLLMValidation Route = "llm_validation"
	RouteHumanReview   Route = "human_review"
)

// NotAutoPostReason explains why a decision was blocked from auto-posting.
type NotAutoPostReason string

// Blocking reason constants, one per gate check.
const (
	ReasonImbalance      NotAutoPostReason = "imbalance"
	ReasonBudgetFallback NotAutoPostReason = "budget_fallback"
	ReasonColdStart      NotAutoPostReason = "cold_start"
	ReasonBelowThreshold NotAutoPostReason = "below_threshold"
	ReasonRuleConflict   NotAutoPostReason = "rule_conflict"
	ReasonAnomaly        NotAutoPostReason = "anomaly"
)

// BlendedDecision is the output of the decision blender: one calibrated
// score plus a provisional route. Immutable once produced.
type BlendedDecision struct {
	Timestamp       time.Time
	FinalAccount    string
	Route           Route
	SignalBreakdown map[SignalSource]SignalScore
	BlendScore      float64
	AutoPostMin     float64
	ReviewMin       float64
	RuleVersion     int64
}

// DecisionOutput is what the pipeline exposes downstream to posting/export.
type DecisionOutput struct {
	FinalAccount      string            `json:"final_account"`
	Route             Route             `json:"route"`
	NotAutoPostReason NotAutoPostReason `json:"not_auto_post_reason,omitempty"`
	BlendScore        float64           `json:"blend_score"`
	RuleVersion       int64             `json:"rule_version"`
	AuditRef          string            `json:"audit_ref"`
}

// DecisionAuditEntry records the full rationale for one decision.
// Write-once; only UserAction may be set later, exactly once.
type DecisionAuditEntry struct {
	Timestamp         time.Time
	ID                string
	TransactionID     string
	TenantID          string
	VendorNormalized  string
	FinalAccount      string
	Route             Route
	NotAutoPostReason NotAutoPostReason // empty when auto-posted
	ExecutionOrder    string            // comma-joined gate checks in evaluation order
	UserAction        string            // empty until a human acts on the entry
	BlendScore        float64
	RuleVersion       int64
}
