package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

// maxReclassificationSamples caps how many concrete reclassifications an
// impact report carries; the full count is always reported.
const maxReclassificationSamples = 20

// ImpactOptions tunes a dry-run simulation.
type ImpactOptions struct {
	// AutoPostMin is the confidence floor used to estimate automation rate.
	AutoPostMin float64
	// HighConflictFraction flags the report when more than this share of
	// the sample is reclassified.
	HighConflictFraction float64
	// SystematicFraction flags an account when it receives more than this
	// share of all reclassifications.
	SystematicFraction float64
	// OnProgress, when set, is called after each simulated transaction.
	OnProgress func(done, total int)
}

// DefaultImpactOptions returns the default simulation tuning.
func DefaultImpactOptions() ImpactOptions {
	return ImpactOptions{
		AutoPostMin:          0.90,
		HighConflictFraction: 0.10,
		SystematicFraction:   0.50,
	}
}

// Reclassification is one transaction whose winning account changed between
// the current and the candidate rule set.
type Reclassification struct {
	TransactionID string
	Vendor        string
	AccountBefore string
	AccountAfter  string
}

// ImpactReport summarizes what a candidate rule set would do to a held
// sample, so an operator can judge a promotion before committing it.
type ImpactReport struct {
	GeneratedAt          time.Time
	Flags                []string
	Samples              []Reclassification
	SampleSize           int
	ReclassifiedCount    int
	ConflictCountBefore  int
	ConflictCountAfter   int
	AutomationRateBefore float64
	AutomationRateAfter  float64
}

// DryRunImpact evaluates candidate rules against sample transactions
// without ever touching the active version. It reads the current version
// once and performs no writes; any failure yields no report.
func (s *VersionStore) DryRunImpact(ctx context.Context, candidateRules []model.RuleDefinition, sample []model.Transaction, opts ImpactOptions) (*ImpactReport, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("dry run requires a non-empty transaction sample")
	}
	if opts.AutoPostMin == 0 {
		opts = DefaultImpactOptions()
	}

	current, err := s.store.GetCurrentRuleVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current version for dry run: %w", err)
	}

	before := NewMatcher(current)
	after := NewMatcher(&model.RuleVersion{
		Rules:     candidateRules,
		RuleCount: len(candidateRules),
	})

	report := &ImpactReport{
		GeneratedAt: time.Now(),
		SampleSize:  len(sample),
	}

	automatedBefore := 0
	automatedAfter := 0
	reclassTargets := make(map[string]int)

	for i, txn := range sample {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		beforeResult := before.Match(txn)
		afterResult := after.Match(txn)

		if beforeResult.Conflicting {
			report.ConflictCountBefore++
		}
		if afterResult.Conflicting {
			report.ConflictCountAfter++
		}

		beforeAccount := accountOf(beforeResult)
		afterAccount := accountOf(afterResult)

		if automates(beforeResult, opts.AutoPostMin) {
			automatedBefore++
		}
		if automates(afterResult, opts.AutoPostMin) {
			automatedAfter++
		}

		if beforeAccount != "" && afterAccount != "" && beforeAccount != afterAccount {
			report.ReclassifiedCount++
			reclassTargets[afterAccount]++
			if len(report.Samples) < maxReclassificationSamples {
				report.Samples = append(report.Samples, Reclassification{
					TransactionID: txn.ID,
					Vendor:        txn.VendorNormalized(),
					AccountBefore: beforeAccount,
					AccountAfter:  afterAccount,
				})
			}
		}

		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(sample))
		}
	}

	report.AutomationRateBefore = float64(automatedBefore) / float64(len(sample))
	report.AutomationRateAfter = float64(automatedAfter) / float64(len(sample))
	report.Flags = buildFlags(report, reclassTargets, opts)

	return report, nil
}

func accountOf(result MatchResult) string {
	best := result.Best()
	if best == nil {
		return ""
	}
	return best.Account
}

func automates(result MatchResult, autoPostMin float64) bool {
	best := result.Best()
	return best != nil && !result.Conflicting && best.Confidence >= autoPostMin
}

func buildFlags(report *ImpactReport, reclassTargets map[string]int, opts ImpactOptions) []string {
	var flags []string

	if float64(report.ReclassifiedCount) > opts.HighConflictFraction*float64(report.SampleSize) {
		flags = append(flags, fmt.Sprintf("high conflict count: %d of %d sampled transactions reclassified",
			report.ReclassifiedCount, report.SampleSize))
	}
	if report.ConflictCountAfter > report.ConflictCountBefore {
		flags = append(flags, fmt.Sprintf("rule conflicts increase from %d to %d",
			report.ConflictCountBefore, report.ConflictCountAfter))
	}
	if report.AutomationRateAfter < report.AutomationRateBefore {
		flags = append(flags, fmt.Sprintf("automation rate drops from %.1f%% to %.1f%%",
			report.AutomationRateBefore*100, report.AutomationRateAfter*100))
	}

	accounts := make([]string, 0, len(reclassTargets))
	for account := range reclassTargets {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		if report.ReclassifiedCount > 0 &&
			float64(reclassTargets[account]) > opts.SystematicFraction*float64(report.ReclassifiedCount) {
			flags = append(flags, fmt.Sprintf("systematic reclassification into account %q (%d of %d)",
				account, reclassTargets[account], report.ReclassifiedCount))
		}
	}

	return flags
}
