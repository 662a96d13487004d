package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

// promotedRulePriority is the priority assigned to rules created from
// accepted candidates. Above defaults, below operator-pinned rules.
const promotedRulePriority = 50

// VersionStore governs the rule version lifecycle. All writes go through
// the append-only storage layer; "current" is simply the newest version.
type VersionStore struct {
	store service.Storage
}

// NewVersionStore creates a version store.
func NewVersionStore(store service.Storage) *VersionStore {
	return &VersionStore{store: store}
}

// CreateVersion appends a new immutable version holding the given rules.
func (s *VersionStore) CreateVersion(ctx context.Context, ruleDefs []model.RuleDefinition, author, notes string) (*model.RuleVersion, error) {
	if len(ruleDefs) == 0 {
		return nil, common.ErrVersionEmpty
	}

	version := &model.RuleVersion{
		CreatedAt: time.Now(),
		Author:    author,
		Notes:     notes,
		Rules:     append([]model.RuleDefinition(nil), ruleDefs...),
		RuleCount: len(ruleDefs),
	}

	created, err := s.store.CreateRuleVersion(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule version: %w", err)
	}

	slog.Info("Created rule version",
		"version_id", created.VersionID,
		"author", author,
		"rule_count", created.RuleCount)
	return created, nil
}

// GetCurrent returns the most recently created version.
func (s *VersionStore) GetCurrent(ctx context.Context) (*model.RuleVersion, error) {
	return s.store.GetCurrentRuleVersion(ctx)
}

// Rollback creates a new version whose rule content is copied from the
// target historical version. History is never deleted or mutated.
func (s *VersionStore) Rollback(ctx context.Context, versionID int64, author string) (*model.RuleVersion, error) {
	target, err := s.store.GetRuleVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load version %d: %w", versionID, err)
	}

	notes := fmt.Sprintf("rollback of version %d", versionID)
	return s.CreateVersion(ctx, target.CloneRules(), author, notes)
}

// PromoteAccepted folds every accepted, not-yet-promoted candidate into a
// new version on top of the current rule set. An existing exact-vendor rule
// for the same vendor is replaced; otherwise a new rule is appended.
func (s *VersionStore) PromoteAccepted(ctx context.Context, author string) (*model.RuleVersion, error) {
	accepted, err := s.store.ListCandidates(ctx, model.CandidateAccepted)
	if err != nil {
		return nil, fmt.Errorf("failed to list accepted candidates: %w", err)
	}

	var promotable []model.RuleCandidate
	for _, c := range accepted {
		if c.PromotedVersion == nil {
			promotable = append(promotable, c)
		}
	}
	if len(promotable) == 0 {
		return nil, common.ErrNothingPromote
	}

	var base []model.RuleDefinition
	current, err := s.store.GetCurrentRuleVersion(ctx)
	switch {
	case err == nil:
		base = current.CloneRules()
	case errors.Is(err, common.ErrNotFound):
		base = nil
	default:
		return nil, fmt.Errorf("failed to load current version: %w", err)
	}

	for _, candidate := range promotable {
		rule := model.RuleDefinition{
			ID:         uuid.NewString(),
			Type:       model.RuleExactVendor,
			Pattern:    candidate.VendorNormalized,
			Account:    candidate.SuggestedAccount,
			Confidence: candidate.AvgConfidence,
			Priority:   promotedRulePriority,
			Enabled:    true,
			Metadata: map[string]string{
				"candidate_id": fmt.Sprintf("%d", candidate.ID),
				"obs_count":    fmt.Sprintf("%d", candidate.ObsCount),
			},
		}
		base = replaceOrAppend(base, rule)
	}

	notes := fmt.Sprintf("promoted %d accepted candidate(s)", len(promotable))
	created, err := s.CreateVersion(ctx, base, author, notes)
	if err != nil {
		return nil, err
	}

	for i := range promotable {
		promotable[i].PromotedVersion = &created.VersionID
		if _, err := s.store.UpsertCandidate(ctx, &promotable[i]); err != nil {
			return created, fmt.Errorf("failed to mark candidate %d promoted: %w", promotable[i].ID, err)
		}
	}

	return created, nil
}

func replaceOrAppend(ruleDefs []model.RuleDefinition, rule model.RuleDefinition) []model.RuleDefinition {
	vendor := model.NormalizeVendor(rule.Pattern)
	for i := range ruleDefs {
		if ruleDefs[i].Type == model.RuleExactVendor && model.NormalizeVendor(ruleDefs[i].Pattern) == vendor {
			ruleDefs[i] = rule
			return ruleDefs
		}
	}
	return append(ruleDefs, rule)
}
