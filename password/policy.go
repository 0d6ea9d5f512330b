package password

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrWeakSecret is wrapped by every *PolicyError.
var ErrWeakSecret = errors.New("password policy violation")

const (
	MinLength = 8
	MaxLength = 128

	// Symbols is the accepted set for the special-character rule.
	Symbols = `!@#$%^&*()_+-=[]{};':"\|,.<>?/`
)

// Rule names a strength rule. Rules are evaluated in declaration order.
type Rule uint8

const (
	RuleMinLength Rule = iota + 1
	RuleMaxLength
	RuleUpper
	RuleLower
	RuleDigit
	RuleSymbol
)

var ruleMessages = map[Rule]string{
	RuleMinLength: "Password must be at least 8 characters long",
	RuleMaxLength: "Password must not exceed 128 characters",
	RuleUpper:     "Password must contain at least one uppercase letter",
	RuleLower:     "Password must contain at least one lowercase letter",
	RuleDigit:     "Password must contain at least one digit",
	RuleSymbol:    "Password must contain at least one special character (!@#$%^&*...)",
}

// PolicyError reports the first rule a candidate secret violates.
type PolicyError struct {
	Rule    Rule
	Message string
}

func (e *PolicyError) Error() string { return e.Message }

func (e *PolicyError) Unwrap() error { return ErrWeakSecret }

func violation(r Rule) error {
	return &PolicyError{Rule: r, Message: ruleMessages[r]}
}

// CheckStrength validates s against the fixed policy and returns only the
// first violation. Character classes are collected in one pass over s.
func CheckStrength(s string) error {
	n := utf8.RuneCountInString(s)
	if n < MinLength {
		return violation(RuleMinLength)
	}
	if n > MaxLength {
		return violation(RuleMaxLength)
	}

	var upper, lower, digit, symbol bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= '0' && c <= '9':
			digit = true
		case strings.IndexByte(Symbols, c) >= 0:
			symbol = true
		}
	}

	switch {
	case !upper:
		return violation(RuleUpper)
	case !lower:
		return violation(RuleLower)
	case !digit:
		return violation(RuleDigit)
	case !symbol:
		return violation(RuleSymbol)
	}
	return nil
}
