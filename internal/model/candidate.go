package model

import "time"

// CandidateStatus is the lifecycle state of a rule candidate.
type CandidateStatus string

// Candidate status constants. Accepted and rejected are terminal.
const (
	CandidatePending  CandidateStatus = "pending"
	CandidateAccepted CandidateStatus = "accepted"
	CandidateRejected CandidateStatus = "rejected"
)

// RuleEvidence is one observation supporting a (vendor, account) pairing,
// typically produced from a human correction or a high-confidence agreement.
type RuleEvidence struct {
	ObservedAt       time.Time
	TransactionID    string
	VendorNormalized string
	Account          string
	Source           string // e.g. "user_correction", "user_confirmation"
	Confidence       float64
}

// RuleCandidate aggregates evidence for a potential new rule. The running
// mean and M2 follow Welford's algorithm; variance is derived, never stored.
type RuleCandidate struct {
	LastSeenAt       time.Time
	DecidedAt        *time.Time
	PromotedVersion  *int64
	VendorNormalized string
	SuggestedAccount string
	Status           CandidateStatus
	DecidedBy        string
	RejectReason     string
	ID               int64
	ObsCount         int64
	AvgConfidence    float64
	M2               float64
}

// Variance returns the population variance of observed confidences.
func (c *RuleCandidate) Variance() float64 {
	if c.ObsCount < 2 {
		return 0
	}
	return c.M2 / float64(c.ObsCount)
}

// PromotionPolicy decides when a pending candidate is ready to become a rule.
type PromotionPolicy struct {
	MinObservations int64
	MinConfidence   float64
	MaxVariance     float64
	// ConfDeltaMin is the margin by which a candidate's average confidence
	// must beat an existing rule for the same vendor before it may replace it.
	ConfDeltaMin float64
}
