package model

import "time"

// RuleType selects the matching predicate a rule applies. Each type is a
// fixed, typed predicate over named transaction fields; there is no
// free-form expression evaluation.
type RuleType string

// Rule type constants.
const (
	RuleExactVendor  RuleType = "exact_vendor"
	RuleRegexPattern RuleType = "regex_pattern"
	RuleMCCDefault   RuleType = "mcc_default"
	RuleMemoContains RuleType = "memo_contains"
)

// RuleDefinition is one deterministic categorization rule.
type RuleDefinition struct {
	ID         string            `json:"id"`
	Type       RuleType          `json:"type"`
	Pattern    string            `json:"pattern"`
	Account    string            `json:"account"`
	Confidence float64           `json:"confidence"`
	Priority   int               `json:"priority"`
	Enabled    bool              `json:"enabled"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RuleVersion is an immutable snapshot of the full rule set. Versions are
// append-only; rollbacks and promotions always create a new version.
type RuleVersion struct {
	CreatedAt time.Time        `json:"created_at"`
	Author    string           `json:"author"`
	Notes     string           `json:"notes"`
	Rules     []RuleDefinition `json:"rules"`
	VersionID int64            `json:"version_id"`
	RuleCount int              `json:"rule_count"`
}

// CloneRules returns a deep copy of the version's rule list, so callers can
// build a successor version without aliasing history.
func (v *RuleVersion) CloneRules() []RuleDefinition {
	rules := make([]RuleDefinition, len(v.Rules))
	copy(rules, v.Rules)
	for i := range rules {
		if rules[i].Metadata == nil {
			continue
		}
		meta := make(map[string]string, len(rules[i].Metadata))
		for k, val := range rules[i].Metadata {
			meta[k] = val
		}
		rules[i].Metadata = meta
	}
	return rules
}
