// Package errs defines the error kinds that drive retry and aggregation
// decisions across the pipeline.
//
// Retry rules:
//   - TransientError: network, rate limit or 5xx failures. Retried.
//   - InvalidOutputError: generator returned output that fails the schema. Retried.
//   - MissingCapabilityError: content lacks what a platform needs. Never retried.
//   - AggregateFailure: every platform of a publish failed.
//
// Unclassified errors are treated as retryable.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// TransientError wraps a failure that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// InvalidOutputError reports generator output that does not satisfy the schema.
type InvalidOutputError struct {
	Reason string
}

func (e *InvalidOutputError) Error() string {
	return "invalid output: " + e.Reason
}

func InvalidOutput(format string, args ...any) error {
	return &InvalidOutputError{Reason: fmt.Sprintf(format, args...)}
}

// MissingCapabilityError is returned before any network call when the content
// cannot satisfy a platform requirement.
type MissingCapabilityError struct {
	Platform string
	Missing  string
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("MissingCapability: %s requires %s", e.Platform, e.Missing)
}

func MissingCapability(platform, missing string) error {
	return &MissingCapabilityError{Platform: platform, Missing: missing}
}

// PlatformError is one platform's failure within a dispatch.
type PlatformError struct {
	Platform string
	Err      error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: %v", e.Platform, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// AggregateFailure means every platform failed. Its message joins the
// per-platform messages in platform order.
type AggregateFailure struct {
	err error
}

// NewAggregateFailure combines the given per-platform errors.
func NewAggregateFailure(failures map[string]error) *AggregateFailure {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)

	var combined error
	for _, name := range names {
		combined = multierr.Append(combined, &PlatformError{Platform: name, Err: failures[name]})
	}
	return &AggregateFailure{err: combined}
}

func (e *AggregateFailure) Error() string {
	parts := make([]string, 0)
	for _, err := range multierr.Errors(e.err) {
		parts = append(parts, err.Error())
	}
	return "all platforms failed: " + strings.Join(parts, "; ")
}

// Errors returns the per-platform errors.
func (e *AggregateFailure) Errors() []error {
	return multierr.Errors(e.err)
}

// Retryable reports whether at least one platform failure could succeed on retry.
func (e *AggregateFailure) Retryable() bool {
	for _, err := range multierr.Errors(e.err) {
		if IsRetryable(err) {
			return true
		}
	}
	return false
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsInvalidOutput(err error) bool {
	var ie *InvalidOutputError
	return errors.As(err, &ie)
}

func IsMissingCapability(err error) bool {
	var me *MissingCapabilityError
	return errors.As(err, &me)
}

// IsRetryable classifies err for the stage queue.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var agg *AggregateFailure
	if errors.As(err, &agg) {
		return agg.Retryable()
	}
	if IsMissingCapability(err) {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	return true
}

// PermanentError marks a failure that retrying cannot fix, such as a
// rejected credential or a malformed request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
