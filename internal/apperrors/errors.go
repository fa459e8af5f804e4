package apperrors

import (
	"errors"
	"fmt"
)

// Kinds cover the failure classes the REST layer maps to status codes.
// Wrap them with %w so callers can match with errors.Is.
var (
	// ErrNotFound: module/package/analysis/chat/job absent.
	ErrNotFound = errors.New("not found")
	// ErrSourceUnavailable: decompilation failed or not applicable
	// (system packages, unverified bytecode).
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrProvider: embedding/completion call failed (quota, timeout).
	ErrProvider = errors.New("provider error")
	// ErrValidation: malformed identifiers or parameters.
	ErrValidation = errors.New("validation error")
)

func NotFound(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func SourceUnavailable(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrSourceUnavailable)...)
}

func Provider(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrProvider)...)
}

func Validation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}
