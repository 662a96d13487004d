package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/testutil"
)

func TestVersionStore_CreateVersionRejectsEmptyRuleSet(t *testing.T) {
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	_, err := vs.CreateVersion(context.Background(), nil, "operator", "")
	assert.ErrorIs(t, err, common.ErrVersionEmpty)
}

func TestVersionStore_VersionsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	v1, err := vs.CreateVersion(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.95, 100),
	}, "operator", "initial")
	require.NoError(t, err)

	v2, err := vs.CreateVersion(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6300 Software", 0.95, 100),
	}, "operator", "recategorized")
	require.NoError(t, err)

	assert.Greater(t, v2.VersionID, v1.VersionID)

	// The old version is still readable, unchanged.
	historical, err := store.GetRuleVersion(ctx, v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "6100 Office Supplies", historical.Rules[0].Account)

	current, err := vs.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2.VersionID, current.VersionID)
}

func TestVersionStore_RollbackCreatesNewVersion(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	v1, err := vs.CreateVersion(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.95, 100),
	}, "operator", "initial")
	require.NoError(t, err)

	_, err = vs.CreateVersion(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6300 Software", 0.95, 100),
	}, "operator", "bad change")
	require.NoError(t, err)

	rolled, err := vs.Rollback(ctx, v1.VersionID, "operator")
	require.NoError(t, err)

	// Rule content matches the target, but the version is a new one.
	assert.NotEqual(t, v1.VersionID, rolled.VersionID)
	assert.Equal(t, v1.Rules, rolled.Rules)
	assert.Contains(t, rolled.Notes, "rollback of version")

	current, err := vs.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, rolled.VersionID, current.VersionID)
	assert.Equal(t, "6100 Office Supplies", current.Rules[0].Account)
}

func TestVersionStore_PromoteAccepted(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	_, err := vs.CreateVersion(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.80, 100),
		rule("r2", model.RuleMCCDefault, "5812", "6500 Meals", 0.70, 10),
	}, "operator", "initial")
	require.NoError(t, err)

	// One candidate replaces the existing acme rule, one adds a new vendor.
	for _, c := range []model.RuleCandidate{
		{VendorNormalized: "acme corp", SuggestedAccount: "6300 Software", Status: model.CandidateAccepted, ObsCount: 6, AvgConfidence: 0.92},
		{VendorNormalized: "globex", SuggestedAccount: "6200 Utilities", Status: model.CandidateAccepted, ObsCount: 5, AvgConfidence: 0.88},
	} {
		_, err := store.UpsertCandidate(ctx, &c)
		require.NoError(t, err)
	}

	created, err := vs.PromoteAccepted(ctx, "operator")
	require.NoError(t, err)

	require.Len(t, created.Rules, 3)
	byVendor := make(map[string]model.RuleDefinition)
	for _, r := range created.Rules {
		if r.Type == model.RuleExactVendor {
			byVendor[r.Pattern] = r
		}
	}
	assert.Equal(t, "6300 Software", byVendor["acme corp"].Account)
	assert.Equal(t, "6200 Utilities", byVendor["globex"].Account)
	assert.Equal(t, promotedRulePriority, byVendor["globex"].Priority)

	// Promoted candidates are stamped with the new version and never picked
	// up again.
	promoted, err := store.GetCandidate(ctx, "globex", "6200 Utilities")
	require.NoError(t, err)
	require.NotNil(t, promoted.PromotedVersion)
	assert.Equal(t, created.VersionID, *promoted.PromotedVersion)

	_, err = vs.PromoteAccepted(ctx, "operator")
	assert.ErrorIs(t, err, common.ErrNothingPromote)
}

func TestVersionStore_PromoteAcceptedWithoutCandidates(t *testing.T) {
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	_, err := vs.PromoteAccepted(context.Background(), "operator")
	assert.ErrorIs(t, err, common.ErrNothingPromote)
}
