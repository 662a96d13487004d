package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/testutil"
)

func TestColdStartTracker_EligibilityAfterConsistentRun(t *testing.T) {
	ctx := context.Background()
	tracker := NewColdStartTracker(nil)

	_, err := tracker.AddLabel(ctx, "acme corp", "6100 Office Supplies")
	require.NoError(t, err)
	assert.False(t, tracker.IsEligible("acme corp"))

	_, err = tracker.AddLabel(ctx, "acme corp", "6100 Office Supplies")
	require.NoError(t, err)
	assert.False(t, tracker.IsEligible("acme corp"))

	status, err := tracker.AddLabel(ctx, "acme corp", "6100 Office Supplies")
	require.NoError(t, err)
	assert.True(t, status.Eligible)
	assert.True(t, tracker.IsEligible("acme corp"))
	assert.Equal(t, 3, status.RunLength)
}

func TestColdStartTracker_DifferingThirdLabelBlocksEligibility(t *testing.T) {
	ctx := context.Background()
	tracker := NewColdStartTracker(nil)

	for _, account := range []string{"6100 Office Supplies", "6100 Office Supplies", "6300 Software"} {
		_, err := tracker.AddLabel(ctx, "acme corp", account)
		require.NoError(t, err)
	}

	// Three labels total, but the break means only one consecutive label on
	// the new account.
	status := tracker.Status("acme corp")
	assert.Equal(t, 3, status.LabelCount)
	assert.Equal(t, 1, status.RunLength)
	assert.False(t, status.Consistent)
	assert.False(t, tracker.IsEligible("acme corp"))
}

func TestColdStartTracker_RecoversAfterNewConsistentRun(t *testing.T) {
	ctx := context.Background()
	tracker := NewColdStartTracker(nil)

	labels := []string{
		"6100 Office Supplies",
		"6100 Office Supplies",
		"6300 Software", // breaks the run
		"6300 Software",
	}
	for _, account := range labels {
		_, err := tracker.AddLabel(ctx, "acme corp", account)
		require.NoError(t, err)
	}
	assert.False(t, tracker.IsEligible("acme corp"))

	// A third consecutive label on the new account restores eligibility.
	status, err := tracker.AddLabel(ctx, "acme corp", "6300 Software")
	require.NoError(t, err)
	assert.True(t, status.Eligible)
	assert.True(t, tracker.IsEligible("acme corp"))
}

func TestColdStartTracker_UnknownVendorIneligible(t *testing.T) {
	tracker := NewColdStartTracker(nil)

	assert.False(t, tracker.IsEligible("never seen before"))

	status := tracker.Status("never seen before")
	assert.Zero(t, status.LabelCount)
	assert.False(t, status.Eligible)
}

func TestColdStartTracker_HydrateReplaysPersistedLabels(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)

	seeded := NewColdStartTracker(store)
	for i := 0; i < 3; i++ {
		_, err := seeded.AddLabel(ctx, "acme corp", "6100 Office Supplies")
		require.NoError(t, err)
	}
	_, err := seeded.AddLabel(ctx, "flaky vendor", "6100 Office Supplies")
	require.NoError(t, err)
	_, err = seeded.AddLabel(ctx, "flaky vendor", "6300 Software")
	require.NoError(t, err)

	// A fresh tracker over the same storage sees identical state.
	restored := NewColdStartTracker(store)
	require.NoError(t, restored.Hydrate(ctx))

	assert.True(t, restored.IsEligible("acme corp"))
	assert.False(t, restored.IsEligible("flaky vendor"))

	status := restored.Status("flaky vendor")
	assert.Equal(t, 2, status.LabelCount)
	assert.False(t, status.Consistent)
}
