// Package errs defines the error kinds the signal pipeline recognises and
// their retry/abort disposition, per the error handling table in the spec.
package errs

import "errors"

// Kind classifies a failure so callers can decide whether to retry it.
type Kind string

const (
	KindProviderTransient  Kind = "provider_transient"
	KindProviderPermanent  Kind = "provider_permanent"
	KindProviderRateLimited Kind = "provider_rate_limited"
	KindStoreDuplicate     Kind = "store_duplicate"
	KindStoreUnavailable   Kind = "store_unavailable"
	KindTrackerConflict    Kind = "tracker_conflict"
	KindMessengerTransient Kind = "messenger_transient"
	KindMessengerPermanent Kind = "messenger_permanent"
)

// Error wraps an underlying cause with a disposition kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error for kind with a static message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error for kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or something it wraps) carries kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// KindOf extracts the Kind from err (or something it wraps), if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether kind should be retried in-place (FETCH/NOTIFY).
func Retryable(kind Kind) bool {
	switch kind {
	case KindProviderTransient, KindProviderRateLimited, KindMessengerTransient, KindTrackerConflict:
		return true
	default:
		return false
	}
}
