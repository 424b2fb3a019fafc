// Package errs provides the unified error type used across all of pistas.
//
// Every subsystem (filestore drivers, catalog, search, server, …) wraps its
// native errors into *errs.Error before returning them to callers. Callers use
// the Is* predicates to handle errors without importing driver-specific
// packages.
//
// Usage:
//
//	// In a driver — wrap native errors:
//	return errs.Wrap(errs.ErrKindRemoteUnavailable, "list page failed", err)
//
//	// In a handler — check error kind:
//	if errs.IsInvalidQuery(err) {
//	    http.Error(w, err.Error(), http.StatusBadRequest)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing provider-specific codes.
// All backends (B2 native API, S3-compatible endpoints, …) map their native
// errors to one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown            ErrKind = iota
	ErrKindConfig                     // malformed or missing credential / settings, never retried
	ErrKindAuth                       // remote rejected credentials, or no session yet
	ErrKindRemoteUnavailable          // network, timeout or 5xx talking to the provider
	ErrKindCatalogUnavailable         // no usable snapshot, fresh or stale
	ErrKindInvalidQuery               // search input too short
	ErrKindNotFound                   // no object, no key in the catalog
	ErrKindTimeout                    // context deadline / cancellation
	ErrKindInvalidInput               // bad arguments from the caller
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindConfig:
		return "config"
	case ErrKindAuth:
		return "auth"
	case ErrKindRemoteUnavailable:
		return "remote_unavailable"
	case ErrKindCatalogUnavailable:
		return "catalog_unavailable"
	case ErrKindInvalidQuery:
		return "invalid_query"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all pistas subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging

	// Status is the HTTP status reported by the remote provider, 0 if the
	// failure never produced a response.
	Status int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WrapStatus is Wrap for failures that carry a remote HTTP status.
func WrapStatus(kind ErrKind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause, Status: status}
}

// --- Predicates ---

// IsConfig reports whether err was caused by missing or malformed configuration.
func IsConfig(err error) bool {
	return kindOf(err) == ErrKindConfig
}

// IsAuth reports whether the provider rejected the credentials, or no
// session has been established yet.
func IsAuth(err error) bool {
	return kindOf(err) == ErrKindAuth
}

// IsRemoteUnavailable reports whether the provider could not be reached or
// kept failing after the one-shot re-authorization.
func IsRemoteUnavailable(err error) bool {
	return kindOf(err) == ErrKindRemoteUnavailable
}

// IsCatalogUnavailable reports whether no catalog snapshot, fresh or stale,
// could be served.
func IsCatalogUnavailable(err error) bool {
	return kindOf(err) == ErrKindCatalogUnavailable
}

// IsInvalidQuery reports whether a search query was rejected.
func IsInvalidQuery(err error) bool {
	return kindOf(err) == ErrKindInvalidQuery
}

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// KindOf returns the ErrKind of the outermost *Error in the chain.
func KindOf(err error) ErrKind {
	return kindOf(err)
}

// StatusCode returns the remote HTTP status recorded anywhere in the chain,
// or 0 when none was recorded.
func StatusCode(err error) int {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.Status != 0 {
			return e.Status
		}
		err = e.Cause
	}
	return 0
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
