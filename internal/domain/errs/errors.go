package errs

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors. Every kind is recoverable; none of them
// stops ingestion or serving for other routes.
type Kind string

const (
	KindInvalidObservation Kind = "invalid_observation"
	KindInsufficientData   Kind = "insufficient_data"
	KindTrainingFailed     Kind = "training_failed"
	KindUnknownRoute       Kind = "unknown_route"
	KindVersionNotFound    Kind = "version_not_found"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrInvalidObservation = &Error{Kind: KindInvalidObservation}
	ErrInsufficientData   = &Error{Kind: KindInsufficientData}
	ErrTrainingFailed     = &Error{Kind: KindTrainingFailed}
	ErrUnknownRoute       = &Error{Kind: KindUnknownRoute}
	ErrVersionNotFound    = &Error{Kind: KindVersionNotFound}
)

// Error carries the kind plus enough context for operators.
type Error struct {
	Kind    Kind
	RouteID string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.RouteID != "" {
		msg = fmt.Sprintf("%s: route %s", msg, e.RouteID)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, routeID, reason string) *Error {
	return &Error{Kind: kind, RouteID: routeID, Reason: reason}
}

// Newf creates an error of the given kind with a formatted reason.
func Newf(kind Kind, routeID, format string, a ...interface{}) *Error {
	return New(kind, routeID, fmt.Sprintf(format, a...))
}

// Wrap attaches a cause.
func Wrap(kind Kind, routeID, reason string, err error) *Error {
	return &Error{Kind: kind, RouteID: routeID, Reason: reason, Err: err}
}

// KindOf extracts the kind from an error chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ReasonOf returns the reason of the first *Error in the chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
