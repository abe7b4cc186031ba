// Package validation checks entity fields before they reach the local store
// or the remote API. Validators return nil on success so they compose with
// Collector.
package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func fieldError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add records each non-nil error.
func (c *Collector) Add(errs ...*ValidationError) {
	for _, err := range errs {
		if err != nil {
			c.errors = append(c.errors, *err)
		}
	}
}

// HasErrors reports whether any error was recorded.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns the recorded errors in the order they were added.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 rejects invalid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return fieldError(field, "must be valid UTF-8")
	}
	return nil
}

// ValidateNoNullBytes rejects values containing NUL.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.IndexByte(value, 0) >= 0 {
		return fieldError(field, "must not contain null bytes")
	}
	return nil
}

// ValidateMaxLength rejects values longer than max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return fieldError(field, "exceeds maximum length of %d characters", max)
	}
	return nil
}

// ValidateRequired rejects empty or whitespace-only values.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return fieldError(field, "is required")
	}
	return nil
}

// RequiredText checks a mandatory free-text field. A missing value yields
// only the "is required" error.
func RequiredText(field, value string, max int) []*ValidationError {
	if err := ValidateRequired(field, value); err != nil {
		return []*ValidationError{err}
	}
	return []*ValidationError{
		ValidateMaxLength(field, value, max),
		ValidateUTF8(field, value),
		ValidateNoNullBytes(field, value),
	}
}

const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ValidateID accepts client-generated record ids: a prefix, an underscore
// and a 26-character ULID in Crockford base32 (either case).
func ValidateID(field, value string) *ValidationError {
	i := strings.LastIndexByte(value, '_')
	if i <= 0 || len(value)-i-1 != 26 {
		return fieldError(field, "must be a valid id (prefix_ULID)")
	}
	for _, r := range strings.ToUpper(value[i+1:]) {
		if !strings.ContainsRune(crockfordBase32, r) {
			return fieldError(field, "must be a valid id (invalid character)")
		}
	}
	return nil
}

// ValidateEnum rejects values outside allowed. Matching is case-sensitive.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fieldError(field, "must be one of: %s", strings.Join(allowed, ", "))
}

// ValidateMin rejects values below min.
func ValidateMin(field string, value, min float64) *ValidationError {
	if value < min {
		return fieldError(field, "must be at least %.0f", min)
	}
	return nil
}

// ValidateEmail rejects a non-empty value that is not a bare address.
// Empty values pass; pair with ValidateRequired when the field is mandatory.
func ValidateEmail(field, value string) *ValidationError {
	if value == "" {
		return nil
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return fieldError(field, "must be a valid email address")
	}
	return nil
}

// ValidatePhone accepts 7 to 15 digits with an optional leading '+'.
func ValidatePhone(field, value string) *ValidationError {
	digits := strings.TrimPrefix(value, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return fieldError(field, "must contain 7 to 15 digits")
	}
	if strings.TrimLeft(digits, "0123456789") != "" {
		return fieldError(field, "must contain only digits")
	}
	return nil
}
