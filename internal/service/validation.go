package service

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

const (
	maxAliasLength       = 64
	maxIssuerIDLength    = 64
	maxDisplayNameLength = 128
)

// ValidateAlias checks a leaf alias: 1-64 characters from letters, digits,
// and . _ @ -.
func ValidateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("%w: alias is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(alias) > maxAliasLength {
		return fmt.Errorf("%w: alias must be at most %d characters", ErrInvalidInput, maxAliasLength)
	}
	for _, r := range alias {
		if !isIdentRune(r) && r != '.' && r != '@' {
			return fmt.Errorf("%w: alias contains %q", ErrInvalidInput, r)
		}
	}
	return nil
}

// ValidateIssuerID checks an issuer ID: 1-64 characters from letters,
// digits, _ and -.
func ValidateIssuerID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: issuer id is empty", ErrInvalidInput)
	}
	if len(id) > maxIssuerIDLength {
		return fmt.Errorf("%w: issuer id must be at most %d characters", ErrInvalidInput, maxIssuerIDLength)
	}
	for _, r := range id {
		if !isIdentRune(r) || r > unicode.MaxASCII {
			return fmt.Errorf("%w: issuer id contains %q", ErrInvalidInput, r)
		}
	}
	return nil
}

// ValidateDisplayName rejects empty, overlong and control-character names.
func ValidateDisplayName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: display name is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return fmt.Errorf("%w: display name must be at most %d characters", ErrInvalidInput, maxDisplayNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: display name contains a control character", ErrInvalidInput)
		}
	}
	return nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}
