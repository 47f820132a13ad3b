package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a key or row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTenantNotFound is returned when a job names no resolvable tenant.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrQueueUnavailable is returned when a job cannot be handed to the durable queue.
	ErrQueueUnavailable = errors.New("queue unavailable")
)

// ValidationError is an admission-time shape error. No job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrorKind classifies adapter failures.
type ErrorKind int

const (
	// KindFatal aborts the job and routes it to the dead-letter sink.
	KindFatal ErrorKind = iota
	// KindUnconfigured means the channel is not set up for the tenant.
	KindUnconfigured
	// KindNotImplemented means direct publishing to the channel is not supported yet.
	KindNotImplemented
	// KindTransient is a retryable upstream failure that outlived the adapter's retries.
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnconfigured:
		return "not_configured"
	case KindNotImplemented:
		return "not_implemented"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Soft reports whether the kind degrades a single channel instead of the job.
func (k ErrorKind) Soft() bool {
	return k == KindUnconfigured || k == KindNotImplemented
}

// PublishError is the error type channel adapters return.
type PublishError struct {
	Channel Channel
	Kind    ErrorKind
	Err     error
}

// NewPublishError builds a PublishError with a formatted cause.
func NewPublishError(ch Channel, kind ErrorKind, format string, args ...any) *PublishError {
	return &PublishError{Channel: ch, Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s publish %s: %v", e.Channel, e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// KindOf extracts the error kind; anything that is not a PublishError is fatal.
func KindOf(err error) ErrorKind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}

// QuotaReason is the fallback reason for a channel whose daily ceiling is reached.
func QuotaReason(ch Channel) string {
	return string(ch) + "_quota_exhausted"
}

// SoftReason is the fallback reason for a soft adapter failure.
func SoftReason(ch Channel, kind ErrorKind) string {
	return string(ch) + "_" + kind.String()
}
