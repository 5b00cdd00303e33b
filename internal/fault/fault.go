// Package fault defines the closed error taxonomy shared by the parsing and
// query pipelines. Component boundaries translate raw errors into one of
// these kinds so callers can act on the kind rather than the message.
package fault

import "errors"

// Kind classifies a failure.
type Kind string

const (
	// KindUnparsableDocument marks malformed input. Not retried.
	KindUnparsableDocument Kind = "UnparsableDocument"
	// KindExtractionUnavailable marks a down or missing OCR engine. Retried
	// with backoff a bounded number of times, then degraded to partial.
	KindExtractionUnavailable Kind = "ExtractionUnavailable"
	// KindDocumentNotFound marks a caller error: the referenced fingerprint
	// has not been parsed.
	KindDocumentNotFound Kind = "DocumentNotFound"
	// KindHandlerError marks an external data-source failure. Retried once,
	// then degraded to an unsupported answer.
	KindHandlerError Kind = "HandlerError"
	// KindTimeout marks cancelled in-flight work.
	KindTimeout Kind = "Timeout"
)

// Error is a classified application error.
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

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of the error carrying the given cause.
func (e *Error) WithCause(cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Cause: cause}
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf reports the Kind of err, or the empty Kind when err is not part of
// the taxonomy.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Transient reports whether the failure is worth a single retry.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindHandlerError, KindExtractionUnavailable, KindTimeout:
		return true
	}
	return false
}
