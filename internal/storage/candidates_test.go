package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

func TestUpsertCandidate_InsertThenUpdate(t *testing.T) {
	ctx := context.Background()
	store := setupDB(t)

	first, err := store.UpsertCandidate(ctx, &model.RuleCandidate{
		VendorNormalized: "acme corp",
		SuggestedAccount: "6100 Office Supplies",
		Status:           model.CandidatePending,
		ObsCount:         1,
		AvgConfidence:    0.90,
		LastSeenAt:       time.Now(),
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	// A second upsert for the same key updates in place.
	updated, err := store.UpsertCandidate(ctx, &model.RuleCandidate{
		VendorNormalized: "acme corp",
		SuggestedAccount: "6100 Office Supplies",
		Status:           model.CandidatePending,
		ObsCount:         2,
		AvgConfidence:    0.92,
		M2:               0.0002,
		LastSeenAt:       time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, updated.ID)
	assert.Equal(t, int64(2), updated.ObsCount)
	assert.InDelta(t, 0.92, updated.AvgConfidence, 1e-9)
	assert.InDelta(t, 0.0002, updated.M2, 1e-12)
}

func TestUpsertCandidate_RejectsUnknownStatus(t *testing.T) {
	store := setupDB(t)

	_, err := store.UpsertCandidate(context.Background(), &model.RuleCandidate{
		VendorNormalized: "acme corp",
		SuggestedAccount: "6100 Office Supplies",
		Status:           "undecided",
	})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestGetCandidate_NotFound(t *testing.T) {
	store := setupDB(t)

	_, err := store.GetCandidate(context.Background(), "nobody", "nothing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = store.GetCandidateByID(context.Background(), 404)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListCandidates_FiltersByStatus(t *testing.T) {
	ctx := context.Background()
	store := setupDB(t)

	now := time.Now()
	decided := now
	seed := []model.RuleCandidate{
		{VendorNormalized: "acme corp", SuggestedAccount: "6100 Office Supplies", Status: model.CandidatePending, LastSeenAt: now},
		{VendorNormalized: "globex", SuggestedAccount: "6300 Software", Status: model.CandidateAccepted, DecidedBy: "operator", DecidedAt: &decided, LastSeenAt: now},
		{VendorNormalized: "initech", SuggestedAccount: "6200 Utilities", Status: model.CandidateRejected, RejectReason: "too noisy", LastSeenAt: now},
	}
	for i := range seed {
		_, err := store.UpsertCandidate(ctx, &seed[i])
		require.NoError(t, err)
	}

	pending, err := store.ListCandidates(ctx, model.CandidatePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "acme corp", pending[0].VendorNormalized)

	all, err := store.ListCandidates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAppendEvidence_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupDB(t)

	candidate, err := store.UpsertCandidate(ctx, &model.RuleCandidate{
		VendorNormalized: "acme corp",
		SuggestedAccount: "6100 Office Supplies",
		Status:           model.CandidatePending,
	})
	require.NoError(t, err)

	observed := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.AppendEvidence(ctx, candidate.ID, &model.RuleEvidence{
		ObservedAt:       observed,
		TransactionID:    "txn-1",
		VendorNormalized: "acme corp",
		Account:          "6100 Office Supplies",
		Source:           "user_correction",
		Confidence:       0.90,
	}))
	require.NoError(t, store.AppendEvidence(ctx, candidate.ID, &model.RuleEvidence{
		ObservedAt:       observed.Add(time.Minute),
		TransactionID:    "txn-2",
		VendorNormalized: "acme corp",
		Account:          "6100 Office Supplies",
		Source:           "user_confirmation",
		Confidence:       0.95,
	}))

	evidence, err := store.ListEvidence(ctx, candidate.ID)
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	assert.Equal(t, "txn-1", evidence[0].TransactionID)
	assert.Equal(t, "user_confirmation", evidence[1].Source)
	assert.InDelta(t, 0.95, evidence[1].Confidence, 1e-9)
}
