package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCategory describes the retry class of an error encountered while
// reconciling.
type ErrorCategory string

const (
	// ErrorCategoryNone indicates no error.
	ErrorCategoryNone ErrorCategory = ""
	// ErrorCategoryTransient indicates a retryable failure.
	ErrorCategoryTransient ErrorCategory = "transient"
	// ErrorCategoryPermanent indicates a failure that will not succeed on retry.
	ErrorCategoryPermanent ErrorCategory = "permanent"
)

// ConflictError reports a duplicate resource identity within one state
// snapshot. It is a configuration defect: automated syncing halts for the
// affected application until the source is corrected.
type ConflictError struct {
	ID ResourceID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("duplicate resource identity %s in snapshot", e.ID)
}

// SourceUnavailableError reports a transient failure reaching the
// desired-state source.
type SourceUnavailableError struct {
	Ref string
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("desired-state source %q unavailable: %v", e.Ref, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// TargetUnavailableError reports a transient failure reaching the target
// system.
type TargetUnavailableError struct {
	Target string
	Err    error
}

func (e *TargetUnavailableError) Error() string {
	return fmt.Sprintf("target %q unavailable: %v", e.Target, e.Err)
}

func (e *TargetUnavailableError) Unwrap() error { return e.Err }

// ParseError reports a malformed desired-state document. Retrying does not
// help until the source is corrected.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ApplyError reports a failed apply of a single diff entry. Transient
// failures count against the retry limit for that identity; permanent
// failures mark the entry failed immediately.
type ApplyError struct {
	ID        ResourceID
	Permanent bool
	Err       error
}

func (e *ApplyError) Error() string {
	category := ErrorCategoryTransient
	if e.Permanent {
		category = ErrorCategoryPermanent
	}
	return fmt.Sprintf("apply %s: %s failure: %v", e.ID, category, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Classify walks an error chain and returns its retry category. Unrecognized
// errors are treated as permanent so that nothing retries forever on a
// failure mode the engine does not understand.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}

	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		if applyErr.Permanent {
			return ErrorCategoryPermanent
		}
		return ErrorCategoryTransient
	}

	var sourceErr *SourceUnavailableError
	var targetErr *TargetUnavailableError
	if errors.As(err, &sourceErr) || errors.As(err, &targetErr) {
		return ErrorCategoryTransient
	}

	var parseErr *ParseError
	var conflictErr *ConflictError
	if errors.As(err, &parseErr) || errors.As(err, &conflictErr) {
		return ErrorCategoryPermanent
	}

	for current := err; current != nil; current = errors.Unwrap(current) {
		if errors.Is(current, context.DeadlineExceeded) || errors.Is(current, context.Canceled) {
			return ErrorCategoryTransient
		}
		// Net errors expose retry semantics via the Timeout method.
		if netErr, ok := current.(net.Error); ok && netErr.Timeout() {
			return ErrorCategoryTransient
		}
	}
	return ErrorCategoryPermanent
}
