package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/testutil"
)

func seedCandidate(t *testing.T, store service.Storage, c model.RuleCandidate) *model.RuleCandidate {
	t.Helper()
	if c.Status == "" {
		c.Status = model.CandidatePending
	}
	saved, err := store.UpsertCandidate(context.Background(), &c)
	require.NoError(t, err)
	return saved
}

func TestPromoter_Ready(t *testing.T) {
	policy := DefaultPromotionPolicy()
	p := NewPromoter(nil, policy)

	tests := []struct {
		name      string
		candidate model.RuleCandidate
		want      bool
	}{
		{
			name:      "meets all thresholds",
			candidate: model.RuleCandidate{Status: model.CandidatePending, ObsCount: 5, AvgConfidence: 0.90, M2: 0.01},
			want:      true,
		},
		{
			name:      "too few observations",
			candidate: model.RuleCandidate{Status: model.CandidatePending, ObsCount: 4, AvgConfidence: 0.95},
			want:      false,
		},
		{
			name:      "confidence below floor",
			candidate: model.RuleCandidate{Status: model.CandidatePending, ObsCount: 10, AvgConfidence: 0.80},
			want:      false,
		},
		{
			name:      "variance too high",
			candidate: model.RuleCandidate{Status: model.CandidatePending, ObsCount: 10, AvgConfidence: 0.90, M2: 0.5},
			want:      false,
		},
		{
			name:      "already decided",
			candidate: model.RuleCandidate{Status: model.CandidateAccepted, ObsCount: 10, AvgConfidence: 0.95},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Ready(&tt.candidate))
		})
	}
}

func TestPromoter_AcceptIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	p := NewPromoter(store, DefaultPromotionPolicy())

	c := seedCandidate(t, store, model.RuleCandidate{
		VendorNormalized: "acme corp",
		SuggestedAccount: "6100 Office Supplies",
		ObsCount:         6,
		AvgConfidence:    0.92,
	})

	require.NoError(t, p.Accept(ctx, c.ID, "operator"))

	saved, err := store.GetCandidateByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CandidateAccepted, saved.Status)
	assert.Equal(t, "operator", saved.DecidedBy)
	require.NotNil(t, saved.DecidedAt)

	// Re-deciding either way is an invalid state transition, not a no-op.
	assert.ErrorIs(t, p.Accept(ctx, c.ID, "operator"), common.ErrInvalidState)
	assert.ErrorIs(t, p.Reject(ctx, c.ID, "changed my mind", "operator"), common.ErrInvalidState)
}

func TestPromoter_RejectRecordsReason(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	p := NewPromoter(store, DefaultPromotionPolicy())

	c := seedCandidate(t, store, model.RuleCandidate{
		VendorNormalized: "acme corp",
		SuggestedAccount: "6100 Office Supplies",
		ObsCount:         6,
		AvgConfidence:    0.92,
	})

	require.NoError(t, p.Reject(ctx, c.ID, "vendor too ambiguous", "operator"))

	saved, err := store.GetCandidateByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CandidateRejected, saved.Status)
	assert.Equal(t, "vendor too ambiguous", saved.RejectReason)
}

func TestPromoter_AutoPromoteReady(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	p := NewPromoter(store, DefaultPromotionPolicy())

	ready := seedCandidate(t, store, model.RuleCandidate{
		VendorNormalized: "acme corp",
		SuggestedAccount: "6100 Office Supplies",
		ObsCount:         8,
		AvgConfidence:    0.93,
	})
	seedCandidate(t, store, model.RuleCandidate{
		VendorNormalized: "globex",
		SuggestedAccount: "6300 Software",
		ObsCount:         2, // not enough evidence yet
		AvgConfidence:    0.95,
	})

	accepted, err := p.AutoPromoteReady(ctx, nil)
	require.NoError(t, err)

	require.Len(t, accepted, 1)
	assert.Equal(t, ready.ID, accepted[0].ID)
	assert.Equal(t, model.CandidateAccepted, accepted[0].Status)

	saved, err := store.GetCandidateByID(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, "auto-promoter", saved.DecidedBy)
}

func TestPromoter_AutoPromoteRequiresConfidenceMargin(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	p := NewPromoter(store, DefaultPromotionPolicy())

	seedCandidate(t, store, model.RuleCandidate{
		VendorNormalized: "acme corp",
		SuggestedAccount: "6300 Software",
		ObsCount:         8,
		AvgConfidence:    0.90,
	})

	// An existing rule at 0.88: the candidate's 0.90 is inside the 0.05
	// margin and must not displace it.
	existing := []model.RuleDefinition{{
		ID:         "r1",
		Type:       model.RuleExactVendor,
		Pattern:    "acme corp",
		Account:    "6100 Office Supplies",
		Confidence: 0.88,
		Enabled:    true,
	}}

	accepted, err := p.AutoPromoteReady(ctx, existing)
	require.NoError(t, err)
	assert.Empty(t, accepted)

	// With a clear margin the same candidate goes through.
	existing[0].Confidence = 0.80
	accepted, err = p.AutoPromoteReady(ctx, existing)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
}
