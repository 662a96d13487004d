package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/common"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

// Aggregator accumulates rule evidence into candidate statistics. Updates
// for the same (vendor, account) key are serialized by a per-key mutex:
// Welford merges are read-modify-write and do not commute across
// interleavings without it.
type Aggregator struct {
	store    service.Storage
	keyLocks map[string]*sync.Mutex
	mu       sync.Mutex
}

// NewAggregator creates an evidence aggregator backed by the given storage.
func NewAggregator(store service.Storage) *Aggregator {
	return &Aggregator{
		store:    store,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (a *Aggregator) lockKey(vendor, account string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := vendor + "\x00" + account
	lock, ok := a.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.keyLocks[key] = lock
	}
	return lock
}

// AddEvidence upserts the candidate for the evidence's (vendor, account)
// pair, updates its running statistics, and appends the raw evidence for
// audit. Returns the updated candidate.
func (a *Aggregator) AddEvidence(ctx context.Context, ev model.RuleEvidence) (*model.RuleCandidate, error) {
	if ev.VendorNormalized == "" || ev.Account == "" {
		return nil, fmt.Errorf("%w: evidence requires vendor and account", common.ErrInvalidConfig)
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now()
	}

	lock := a.lockKey(ev.VendorNormalized, ev.Account)
	lock.Lock()
	defer lock.Unlock()

	candidate, err := a.store.GetCandidate(ctx, ev.VendorNormalized, ev.Account)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to load candidate: %w", err)
	}
	if candidate == nil {
		candidate = &model.RuleCandidate{
			VendorNormalized: ev.VendorNormalized,
			SuggestedAccount: ev.Account,
			Status:           model.CandidatePending,
		}
	}

	w := Welford{Count: candidate.ObsCount, Mean: candidate.AvgConfidence, M2: candidate.M2}
	w.Add(ev.Confidence)
	candidate.ObsCount = w.Count
	candidate.AvgConfidence = w.Mean
	candidate.M2 = w.M2
	candidate.LastSeenAt = ev.ObservedAt

	saved, err := a.store.UpsertCandidate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert candidate: %w", err)
	}

	if err := a.store.AppendEvidence(ctx, saved.ID, &ev); err != nil {
		return nil, fmt.Errorf("failed to append evidence: %w", err)
	}

	return saved, nil
}
