package rules

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/testutil"
)

func sampleTxns(vendor string, count int) []model.Transaction {
	txns := make([]model.Transaction, count)
	for i := range txns {
		txns[i] = model.Transaction{
			ID:           fmt.Sprintf("txn-%d", i),
			Counterparty: vendor,
		}
	}
	return txns
}

func TestDryRunImpact_RequiresSample(t *testing.T) {
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	_, err := vs.DryRunImpact(context.Background(), nil, nil, DefaultImpactOptions())
	assert.Error(t, err)
}

func TestDryRunImpact_ReportsReclassifications(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	current, err := vs.CreateVersion(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.95, 100),
	}, "operator", "initial")
	require.NoError(t, err)

	candidate := []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6300 Software", 0.95, 100),
	}

	report, err := vs.DryRunImpact(ctx, candidate, sampleTxns("acme corp", 10), DefaultImpactOptions())
	require.NoError(t, err)

	assert.Equal(t, 10, report.SampleSize)
	assert.Equal(t, 10, report.ReclassifiedCount)
	require.NotEmpty(t, report.Samples)
	assert.Equal(t, "6100 Office Supplies", report.Samples[0].AccountBefore)
	assert.Equal(t, "6300 Software", report.Samples[0].AccountAfter)

	// Every transaction moved, and all into one account: both the volume
	// and the systematic-target flags fire.
	assert.Len(t, report.Flags, 2)

	// Dry run never touches the active version.
	after, err := vs.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, current.VersionID, after.VersionID)
	assert.Equal(t, "6100 Office Supplies", after.Rules[0].Account)
}

func TestDryRunImpact_AutomationRateChanges(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	_, err := vs.CreateVersion(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.95, 100),
	}, "operator", "initial")
	require.NoError(t, err)

	// The candidate set keeps the account but drops confidence under the
	// auto-post floor: automation falls from 100% to 0%.
	candidate := []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.60, 100),
	}

	report, err := vs.DryRunImpact(ctx, candidate, sampleTxns("acme corp", 5), DefaultImpactOptions())
	require.NoError(t, err)

	assert.InDelta(t, 1.0, report.AutomationRateBefore, 1e-9)
	assert.InDelta(t, 0.0, report.AutomationRateAfter, 1e-9)
	assert.Zero(t, report.ReclassifiedCount)

	require.NotEmpty(t, report.Flags)
	assert.Contains(t, report.Flags[0], "automation rate drops")
}

func TestDryRunImpact_ConflictIncreaseIsFlagged(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	_, err := vs.CreateVersion(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.95, 100),
	}, "operator", "initial")
	require.NoError(t, err)

	// The candidate set adds a same-priority rule targeting a different
	// account, creating conflicts that did not exist before.
	candidate := []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.95, 100),
		rule("r2", model.RuleExactVendor, "acme corp", "6300 Software", 0.90, 100),
	}

	report, err := vs.DryRunImpact(ctx, candidate, sampleTxns("acme corp", 5), DefaultImpactOptions())
	require.NoError(t, err)

	assert.Zero(t, report.ConflictCountBefore)
	assert.Equal(t, 5, report.ConflictCountAfter)

	found := false
	for _, flag := range report.Flags {
		if strings.Contains(flag, "rule conflicts increase") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDryRunImpact_ReportsProgress(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	vs := NewVersionStore(store)

	_, err := vs.CreateVersion(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.95, 100),
	}, "operator", "initial")
	require.NoError(t, err)

	var calls int
	opts := DefaultImpactOptions()
	opts.OnProgress = func(done, total int) {
		calls++
		assert.Equal(t, 4, total)
		assert.Equal(t, calls, done)
	}

	_, err = vs.DryRunImpact(ctx, []model.RuleDefinition{
		rule("r1", model.RuleExactVendor, "acme corp", "6100 Office Supplies", 0.95, 100),
	}, sampleTxns("acme corp", 4), opts)
	require.NoError(t, err)

	assert.Equal(t, 4, calls)
}
