// Package rules implements deterministic rule matching and the immutable,
// append-only rule version store with rollback and dry-run simulation.
package rules

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

// MatchResult holds the rules that matched a transaction, ordered by
// priority (highest first, confidence breaking ties).
type MatchResult struct {
	Rules []model.RuleDefinition
	// Conflicting is set when matched rules target different accounts.
	Conflicting bool
}

// Best returns the winning rule, or nil when nothing matched.
func (r MatchResult) Best() *model.RuleDefinition {
	if len(r.Rules) == 0 {
		return nil
	}
	return &r.Rules[0]
}

// Matcher evaluates a rule version against transactions. Each rule type is
// a fixed typed predicate over named transaction fields; there is no
// general-purpose expression evaluation.
type Matcher struct {
	version       *model.RuleVersion
	compiledRegex map[string]*regexp.Regexp
}

// NewMatcher creates a matcher for one rule version, pre-compiling regex
// patterns. Rules with invalid regexes are skipped with a warning.
func NewMatcher(version *model.RuleVersion) *Matcher {
	m := &Matcher{
		version:       version,
		compiledRegex: make(map[string]*regexp.Regexp),
	}

	for _, rule := range version.Rules {
		if rule.Type != model.RuleRegexPattern || rule.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			slog.Warn("Skipping rule with invalid regex",
				"rule_id", rule.ID,
				"pattern", rule.Pattern,
				"error", err)
			continue
		}
		m.compiledRegex[rule.ID] = re
	}

	return m
}

// Version returns the rule version this matcher evaluates.
func (m *Matcher) Version() *model.RuleVersion {
	return m.version
}

// Match evaluates a transaction against all enabled rules.
func (m *Matcher) Match(txn model.Transaction) MatchResult {
	var matched []model.RuleDefinition

	for _, rule := range m.version.Rules {
		if !rule.Enabled {
			continue
		}
		if m.matchesRule(txn, rule) {
			matched = append(matched, rule)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].Confidence > matched[j].Confidence
	})

	result := MatchResult{Rules: matched}
	for _, rule := range matched {
		if rule.Account != matched[0].Account {
			result.Conflicting = true
			break
		}
	}
	return result
}

// Score renders the best match as a rules signal, or nil when no rule
// matched.
func (m *Matcher) Score(txn model.Transaction) *model.SignalScore {
	result := m.Match(txn)
	best := result.Best()
	if best == nil {
		return nil
	}

	return &model.SignalScore{
		Source:  model.SourceRules,
		Account: best.Account,
		Score:   best.Confidence,
		Metadata: map[string]string{
			"rule_id":      best.ID,
			"rule_type":    string(best.Type),
			"rule_version": strconv.FormatInt(m.version.VersionID, 10),
		},
	}
}

func (m *Matcher) matchesRule(txn model.Transaction, rule model.RuleDefinition) bool {
	switch rule.Type {
	case model.RuleExactVendor:
		return txn.VendorNormalized() == model.NormalizeVendor(rule.Pattern)
	case model.RuleRegexPattern:
		re, ok := m.compiledRegex[rule.ID]
		if !ok {
			return false
		}
		if re.MatchString(strings.ToLower(txn.Counterparty)) {
			return true
		}
		return re.MatchString(strings.ToLower(txn.Description))
	case model.RuleMCCDefault:
		return txn.MCC != "" && txn.MCC == rule.Pattern
	case model.RuleMemoContains:
		needle := strings.ToLower(rule.Pattern)
		if needle == "" {
			return false
		}
		if strings.Contains(strings.ToLower(txn.Memo), needle) {
			return true
		}
		return strings.Contains(strings.ToLower(txn.Description), needle)
	default:
		return false
	}
}
