package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/labsync/internal/validation"
)

var (
	// ErrValidation is wrapped by *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateKey is wrapped by *DuplicateKeyError.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is wrapped by *NotFoundError.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidCredentials is returned by Authenticate for unknown users,
	// inactive logins and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrRemoteUnavailable is returned by Refresh when offline or local-only.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	// ErrUnknownTable is returned for tables with no registered collection.
	ErrUnknownTable = errors.New("no collection for table")
)

// ValidationError lists every invalid field of a rejected record.
type ValidationError struct {
	Table  string
	Fields []validation.ValidationError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return fmt.Sprintf("invalid %s record: %s", e.Table, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateKeyError reports a natural-key collision within a uniqueness scope.
type DuplicateKeyError struct {
	Table string
	Field string
	Value string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s with %s %q already exists", e.Table, e.Field, e.Value)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// NotFoundError reports a missing record.
type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s record %q not found", e.Table, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
