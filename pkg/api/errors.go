package api

import (
	"errors"
	"fmt"
)

// ErrInvalidArtifact is returned from Put when the NewArtifact has no URI.
// Nothing is written to the backend in that case.
var ErrInvalidArtifact = errors.New("artifact URI is required")

// Kind classifies adapter errors. Callers decide retry policy by kind; the
// adapters never retry internally.
type Kind int

const (
	KindUnknown Kind = iota

	// KindNotFound means the object was absent at read or delete time.
	KindNotFound

	// KindChecksumMismatch and KindLengthMismatch mean the caller's declared
	// expectations were contradicted by the bytes actually written.
	KindChecksumMismatch
	KindLengthMismatch

	// KindReadFailure and KindWriteFailure are local stream I/O errors.
	KindReadFailure
	KindWriteFailure

	// KindBackendEngagement means the backend was reachable but returned a
	// protocol, config, or operational error.
	KindBackendEngagement

	// KindTransient is an ambiguous and potentially retryable backend
	// condition.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindLengthMismatch:
		return "length mismatch"
	case KindReadFailure:
		return "read failure"
	case KindWriteFailure:
		return "write failure"
	case KindBackendEngagement:
		return "backend engagement failure"
	case KindTransient:
		return "transient failure"
	default:
		return "unknown"
	}
}

// Sentinels for use with errors.Is. Any *Error matches the sentinel of the
// same Kind.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrChecksumMismatch  = &Error{Kind: KindChecksumMismatch}
	ErrLengthMismatch    = &Error{Kind: KindLengthMismatch}
	ErrReadFailure       = &Error{Kind: KindReadFailure}
	ErrWriteFailure      = &Error{Kind: KindWriteFailure}
	ErrBackendEngagement = &Error{Kind: KindBackendEngagement}
	ErrTransient         = &Error{Kind: KindTransient}
)

// Error is returned by every StorageAdapter operation which fails for a
// reason in the taxonomy above.
type Error struct {
	Kind Kind

	// Op is the adapter operation, e.g. "Put".
	Op string

	// StorageID is set when the failure concerns a specific object. For a
	// mismatch on Put, it names the orphaned object.
	StorageID string

	Err error
}

func NewError(kind Kind, op, storageID string, err error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		StorageID: storageID,
		Err:       err,
	}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StorageID != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.StorageID)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(err error) bool {
	other, ok := err.(*Error)
	return ok && other.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is of a kind which might succeed if the
// operation is attempted again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindBackendEngagement:
		return true
	default:
		return false
	}
}
