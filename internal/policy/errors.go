package policy

import (
	"errors"
	"strings"
)

// ErrValidation matches every policy rejection, including reuse.
var ErrValidation = errors.New("password policy violation")

// ValidationError carries every violated rule, not just the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "password policy violation: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ReuseViolation rejects a secret found in the credential's recent history.
type ReuseViolation struct {
	Reason string
}

func (e *ReuseViolation) Error() string { return "password reuse: " + e.Reason }

func (e *ReuseViolation) Is(target error) bool { return target == ErrValidation }

// Violations returns the rule list for any policy error, or nil.
func Violations(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Violations
	}
	var rv *ReuseViolation
	if errors.As(err, &rv) {
		return []string{rv.Reason}
	}
	return nil
}
