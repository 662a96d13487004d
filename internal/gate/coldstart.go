// Package gate implements the safety checks that stand between a blended
// decision and automatic posting: cold-start vendor protection, the LLM
// budget guardrail, and the auto-post gate itself.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

// minConsistentRun is the number of consecutive identical labels a vendor
// needs before it becomes eligible for auto-posting.
const minConsistentRun = 3

// ColdStartStatus is a snapshot of a vendor's label history.
type ColdStartStatus struct {
	VendorNormalized string
	LabelCount       int
	RunLength        int
	Consistent       bool
	Eligible         bool
}

// coldStartEntry tracks one vendor's label history. Labels only accumulate;
// entries are never deleted.
type coldStartEntry struct {
	lastLabel  string
	labelCount int
	runLength  int
	consistent bool
}

func (e *coldStartEntry) add(account string) {
	switch {
	case e.labelCount == 0:
		e.runLength = 1
		e.consistent = true
	case account == e.lastLabel:
		e.runLength++
	default:
		// A differing label breaks consistency and starts a new run of
		// length 1: the vendor must earn three identical labels again.
		e.runLength = 1
		e.consistent = false
	}
	e.labelCount++
	e.lastLabel = account
	if e.runLength >= minConsistentRun {
		e.consistent = true
	}
}

func (e *coldStartEntry) eligible() bool {
	return e.consistent && e.labelCount >= minConsistentRun && e.runLength >= minConsistentRun
}

// ColdStartTracker gates new-vendor auto-posting on label consistency. It is
// the owner of per-vendor label state and safe for concurrent use.
type ColdStartTracker struct {
	store   service.Storage
	entries map[string]*coldStartEntry
	mu      sync.RWMutex
}

// NewColdStartTracker creates a tracker. The storage may be nil for purely
// in-memory operation (tests); when set, labels are persisted append-only.
func NewColdStartTracker(store service.Storage) *ColdStartTracker {
	return &ColdStartTracker{
		store:   store,
		entries: make(map[string]*coldStartEntry),
	}
}

// Hydrate replays persisted label history into memory. Call once at startup,
// before concurrent use.
func (t *ColdStartTracker) Hydrate(ctx context.Context) error {
	if t.store == nil {
		return nil
	}

	history, err := t.store.ListVendorLabels(ctx)
	if err != nil {
		return fmt.Errorf("failed to load vendor label history: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for vendor, labels := range history {
		entry := &coldStartEntry{}
		for _, account := range labels {
			entry.add(account)
		}
		t.entries[vendor] = entry
	}

	slog.Info("Hydrated cold-start tracker", "vendors", len(t.entries))
	return nil
}

// AddLabel records a suggested account for a vendor and returns the updated
// status.
func (t *ColdStartTracker) AddLabel(ctx context.Context, vendorNormalized, account string) (ColdStartStatus, error) {
	t.mu.Lock()
	entry, ok := t.entries[vendorNormalized]
	if !ok {
		entry = &coldStartEntry{}
		t.entries[vendorNormalized] = entry
	}
	entry.add(account)
	status := t.statusLocked(vendorNormalized, entry)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.AppendVendorLabel(ctx, vendorNormalized, account); err != nil {
			return status, fmt.Errorf("failed to persist vendor label: %w", err)
		}
	}

	return status, nil
}

// IsEligible reports whether a vendor has enough consistent history to be
// trusted for automatic posting. Unknown vendors are always ineligible.
func (t *ColdStartTracker) IsEligible(vendorNormalized string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[vendorNormalized]
	if !ok {
		return false
	}
	return entry.eligible()
}

// Status returns the current status for a vendor.
func (t *ColdStartTracker) Status(vendorNormalized string) ColdStartStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[vendorNormalized]
	if !ok {
		return ColdStartStatus{VendorNormalized: vendorNormalized}
	}
	return t.statusLocked(vendorNormalized, entry)
}

func (t *ColdStartTracker) statusLocked(vendor string, entry *coldStartEntry) ColdStartStatus {
	return ColdStartStatus{
		VendorNormalized: vendor,
		LabelCount:       entry.labelCount,
		RunLength:        entry.runLength,
		Consistent:       entry.consistent,
		Eligible:         entry.eligible(),
	}
}
