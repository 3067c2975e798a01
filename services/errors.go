package services

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested record does not exist or is
	// not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with existing state.
	ErrConflict = errors.New("conflict")
	// ErrForbidden is returned when the caller lacks permission.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials covers unknown accounts, bad passwords and bad codes.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers expired, malformed, revoked or mis-scoped tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// ValidationError captures field level validation issues.
type ValidationError struct {
	Fields map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field level error.
func (v *ValidationError) Add(field, message string) {
	if v.Fields == nil {
		v.Fields = make(map[string]string)
	}
	v.Fields[field] = message
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.Fields) > 0
}

// OrNil returns v as an error only when it carries fields.
func (v *ValidationError) OrNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}

func invalid(field, message string) error {
	v := &ValidationError{}
	v.Add(field, message)
	return v
}

// notFound maps gorm's missing-record error onto ErrNotFound and wraps
// everything else with what.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(ErrNotFound, what)
	}
	return errors.Wrap(err, what)
}
