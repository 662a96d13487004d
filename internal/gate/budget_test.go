package gate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/testutil"
)

func recordDecisions(t *testing.T, store service.Storage, tenantID string, count int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		err := store.SaveAuditEntry(ctx, &model.DecisionAuditEntry{
			Timestamp:     time.Now().Add(-time.Minute),
			ID:            fmt.Sprintf("%s-decision-%d", tenantID, i),
			TransactionID: fmt.Sprintf("txn-%d", i),
			TenantID:      tenantID,
			Route:         model.RouteAutoPost,
		})
		require.NoError(t, err)
	}
}

func recordSpend(t *testing.T, g *BudgetGuardrail, tenantID string, costs ...float64) {
	t.Helper()
	ctx := context.Background()
	for i, cost := range costs {
		require.NoError(t, g.LogCall(ctx, tenantID, fmt.Sprintf("txn-%d", i), 500, cost))
	}
}

func TestBudgetGuardrail_CallRatioBreach(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	g := NewBudgetGuardrail(store, DefaultBudgetConfig())

	recordDecisions(t, store, "tenant-a", 12)
	recordSpend(t, g, "tenant-a", 0.01, 0.01, 0.01, 0.01, 0.01)

	status, err := g.Check(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, status.ShouldFallback)
	assert.Equal(t, ReasonCallRate, status.Reason)
	assert.Equal(t, "tenant", status.Scope)
}

func TestBudgetGuardrail_CallRatioAbstainsOnThinWindow(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	g := NewBudgetGuardrail(store, DefaultBudgetConfig())

	// Two calls over two decisions is a 1.0 ratio, but the window is too
	// thin for the ratio to mean anything.
	recordDecisions(t, store, "tenant-a", 2)
	recordSpend(t, g, "tenant-a", 0.01, 0.01)

	status, err := g.Check(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, status.ShouldFallback)
}

func TestBudgetGuardrail_TenantSpendBreach(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	g := NewBudgetGuardrail(store, DefaultBudgetConfig())

	// $49 already spent plus a $2 call tips the $50 cap.
	recordSpend(t, g, "tenant-a", 49.0, 2.0)

	status, err := g.Check(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, status.ShouldFallback)
	assert.Equal(t, ReasonTenantBudget, status.Reason)
	assert.Equal(t, "tenant", status.Scope)
}

func TestBudgetGuardrail_TenantCapOverride(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	g := NewBudgetGuardrail(store, DefaultBudgetConfig())

	cap := 100.0
	require.NoError(t, store.SaveTenant(ctx, &model.Tenant{ID: "tenant-a", SpendCapUSD: &cap}))

	recordSpend(t, g, "tenant-a", 49.0, 2.0)

	status, err := g.Check(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, status.ShouldFallback)
}

func TestBudgetGuardrail_GlobalSpendBreach(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	cfg := DefaultBudgetConfig()
	cfg.TenantCapUSD = 1000.0
	g := NewBudgetGuardrail(store, cfg)

	// Spend spread across other tenants exhausts the platform cap even
	// though no single tenant is over its own.
	for i := 0; i < 11; i++ {
		recordSpend(t, g, fmt.Sprintf("tenant-%d", i), 50.0)
	}

	status, err := g.Check(ctx, "tenant-0")
	require.NoError(t, err)
	assert.True(t, status.ShouldFallback)
	assert.Equal(t, ReasonGlobalBudget, status.Reason)
	assert.Equal(t, "global", status.Scope)
}

func TestBudgetGuardrail_TenantLookupFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	g := NewBudgetGuardrail(failingTenantStore{store}, DefaultBudgetConfig())

	_, err := g.Check(ctx, "tenant-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant cap lookup failed")
}

func TestBudgetGuardrail_CallRatioTakesPrecedenceOverSpend(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	g := NewBudgetGuardrail(store, DefaultBudgetConfig())

	recordDecisions(t, store, "tenant-a", 12)
	recordSpend(t, g, "tenant-a", 20.0, 20.0, 20.0, 20.0, 20.0)

	status, err := g.Check(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, status.ShouldFallback)
	assert.Equal(t, ReasonCallRate, status.Reason)
}

func TestBudgetGuardrail_ResetClearsTenantFallback(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	g := NewBudgetGuardrail(store, DefaultBudgetConfig())

	recordSpend(t, g, "tenant-a", 60.0)

	status, err := g.Check(ctx, "tenant-a")
	require.NoError(t, err)
	require.True(t, status.ShouldFallback)

	require.NoError(t, g.Reset(ctx, "tenant-a"))

	status, err = g.Check(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, status.ShouldFallback)

	spend, err := store.SumLLMSpend(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Zero(t, spend)
}
