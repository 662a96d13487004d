package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

// DefaultPromotionPolicy returns the default promotion thresholds.
func DefaultPromotionPolicy() model.PromotionPolicy {
	return model.PromotionPolicy{
		MinObservations: 5,
		MinConfidence:   0.85,
		MaxVariance:     0.02,
		ConfDeltaMin:    0.05,
	}
}

// Promoter applies the promotion policy to candidates and performs the
// terminal accept/reject transitions.
type Promoter struct {
	store  service.Storage
	policy model.PromotionPolicy
}

// NewPromoter creates a promoter with the given policy.
func NewPromoter(store service.Storage, policy model.PromotionPolicy) *Promoter {
	return &Promoter{store: store, policy: policy}
}

// Ready reports whether a pending candidate meets the promotion policy.
func (p *Promoter) Ready(c *model.RuleCandidate) bool {
	return c.Status == model.CandidatePending &&
		c.ObsCount >= p.policy.MinObservations &&
		c.AvgConfidence >= p.policy.MinConfidence &&
		c.Variance() <= p.policy.MaxVariance
}

// Accept marks a pending candidate accepted. Re-deciding a decided
// candidate is an invalid-state error, never a no-op.
func (p *Promoter) Accept(ctx context.Context, candidateID int64, decidedBy string) error {
	return p.decide(ctx, candidateID, model.CandidateAccepted, "", decidedBy)
}

// Reject marks a pending candidate rejected with a reason.
func (p *Promoter) Reject(ctx context.Context, candidateID int64, reason, decidedBy string) error {
	return p.decide(ctx, candidateID, model.CandidateRejected, reason, decidedBy)
}

func (p *Promoter) decide(ctx context.Context, candidateID int64, status model.CandidateStatus, reason, decidedBy string) error {
	candidate, err := p.store.GetCandidateByID(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("failed to load candidate %d: %w", candidateID, err)
	}
	if candidate.Status != model.CandidatePending {
		return fmt.Errorf("%w: candidate %d is already %s", common.ErrInvalidState, candidateID, candidate.Status)
	}

	now := time.Now()
	candidate.Status = status
	candidate.DecidedBy = decidedBy
	candidate.DecidedAt = &now
	candidate.RejectReason = reason

	if _, err := p.store.UpsertCandidate(ctx, candidate); err != nil {
		return fmt.Errorf("failed to save candidate decision: %w", err)
	}

	slog.Info("Candidate decided",
		"candidate_id", candidateID,
		"vendor", candidate.VendorNormalized,
		"account", candidate.SuggestedAccount,
		"status", status,
		"decided_by", decidedBy)
	return nil
}

// AutoPromoteReady accepts every pending candidate that meets the policy.
// When a rule for the candidate's vendor already exists in currentRules, the
// candidate must beat that rule's confidence by ConfDeltaMin before it may
// displace it. Returns the candidates that were accepted.
func (p *Promoter) AutoPromoteReady(ctx context.Context, currentRules []model.RuleDefinition) ([]model.RuleCandidate, error) {
	pending, err := p.store.ListCandidates(ctx, model.CandidatePending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending candidates: %w", err)
	}

	existing := make(map[string]float64)
	for _, rule := range currentRules {
		if rule.Type == model.RuleExactVendor && rule.Enabled {
			existing[model.NormalizeVendor(rule.Pattern)] = rule.Confidence
		}
	}

	var accepted []model.RuleCandidate
	for i := range pending {
		candidate := &pending[i]
		if !p.Ready(candidate) {
			continue
		}
		if conf, ok := existing[candidate.VendorNormalized]; ok {
			if candidate.AvgConfidence < conf+p.policy.ConfDeltaMin {
				continue
			}
		}
		if err := p.Accept(ctx, candidate.ID, "auto-promoter"); err != nil {
			return accepted, err
		}
		candidate.Status = model.CandidateAccepted
		accepted = append(accepted, *candidate)
	}

	slog.Info("Auto-promotion pass complete",
		"pending", len(pending),
		"accepted", len(accepted))
	return accepted, nil
}
