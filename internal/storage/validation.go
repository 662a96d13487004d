package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/model"
)

// Validation errors.
var (
	ErrNilContext     = errors.New("context cannot be nil")
	ErrEmptyString    = errors.New("string parameter cannot be empty")
	ErrNilParameter   = errors.New("parameter cannot be nil")
	ErrInvalidVersion = errors.New("invalid rule version")
	ErrInvalidStatus  = errors.New("invalid candidate status")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateRuleVersion validates a version before insertion.
func validateRuleVersion(version *model.RuleVersion) error {
	if version == nil {
		return fmt.Errorf("%w: version", ErrNilParameter)
	}
	if len(version.Rules) == 0 {
		return fmt.Errorf("%w: no rules", ErrInvalidVersion)
	}
	if err := validateString(version.Author, "author"); err != nil {
		return err
	}
	for i, rule := range version.Rules {
		if rule.Account == "" {
			return fmt.Errorf("%w: rule at index %d has no account", ErrInvalidVersion, i)
		}
		switch rule.Type {
		case model.RuleExactVendor, model.RuleRegexPattern, model.RuleMCCDefault, model.RuleMemoContains:
		default:
			return fmt.Errorf("%w: rule at index %d has unknown type %q", ErrInvalidVersion, i, rule.Type)
		}
	}
	return nil
}

// validateCandidateStatus validates a candidate lifecycle status.
func validateCandidateStatus(status model.CandidateStatus) error {
	switch status {
	case model.CandidatePending, model.CandidateAccepted, model.CandidateRejected:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
}
