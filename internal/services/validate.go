package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// whitespaceRE collapses consecutive whitespace to a single space.
	whitespaceRE = regexp.MustCompile(`\s+`)

	evmAddressRE      = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	movementAddressRE = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)
	kebabRE           = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	urlSafeSlugRE     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// normalizeText applies NFC, trims and collapses whitespace.
func normalizeText(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
}

// ValidationError carries the human-readable reason an input was rejected.
// It matches ErrInvalidInput under errors.Is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func checkLength(name, v string, min, max int) error {
	if n := utf8.RuneCountInString(v); n < min || n > max {
		return invalid("%s must be between %d and %d characters", name, min, max)
	}
	return nil
}

func checkMaxLen(name, v string, max int) error {
	if utf8.RuneCountInString(v) > max {
		return invalid("%s must be <= %d characters", name, max)
	}
	return nil
}

// checkEVMAddress validates a 0x-prefixed 20-byte hex address.
func checkEVMAddress(name, v string) error {
	if err := checkMaxLen(name, v, 42); err != nil {
		return err
	}
	if !evmAddressRE.MatchString(v) {
		return invalid("%s must be a 0x-prefixed 20-byte hex address", name)
	}
	return nil
}

// NormalizeMovementAddress trims and lowercases addr and checks it is 0x + 1..64 hex digits.
func NormalizeMovementAddress(addr string) (string, error) {
	a, ok := movementAddress(addr)
	if !ok {
		return "", invalid("Invalid address (expected 0x + hex)")
	}
	return a, nil
}

func movementAddress(addr string) (string, bool) {
	a := strings.ToLower(strings.TrimSpace(addr))
	return a, movementAddressRE.MatchString(a)
}

// IsEVMAddress reports whether v is a 0x-prefixed 20-byte hex address.
func IsEVMAddress(v string) bool { return evmAddressRE.MatchString(v) }
