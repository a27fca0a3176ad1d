// Package faults defines the error taxonomy shared across the compute and
// orchestration layers. Errors carry a Kind so that terminal job records can
// persist a stable error classification alongside the message.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy and diagnostics.
type Kind string

const (
	// KindValidation marks a malformed or out-of-domain request. Rejected
	// synchronously, before a job identity is created.
	KindValidation Kind = "validation"
	// KindNotFound marks an unresolvable AOI id or job identity.
	KindNotFound Kind = "not_found"
	// KindUnsupportedQuery marks a query with no precompute table. Swallowed
	// by the dispatch chain; never surfaced to clients.
	KindUnsupportedQuery Kind = "unsupported_query"
	// KindUpstream marks an unreachable or throttled external store.
	KindUpstream Kind = "upstream"
	// KindDomain marks a value-translation call outside a dataset's declared
	// domain. A configuration error; surfaced, never retried.
	KindDomain Kind = "domain"
	// KindInternal is the fallback classification.
	KindInternal Kind = "internal"
)

// Error is a classified error, optionally wrapping a cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification and context to an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the classification of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// IsUnsupportedQuery reports whether err is the dispatch-chain decline signal.
func IsUnsupportedQuery(err error) bool { return IsKind(err, KindUnsupportedQuery) }

// IsNotFound reports whether err marks a missing AOI id or job identity.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }
