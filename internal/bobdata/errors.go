package bobdata

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy shared across the engine. Kind is
// not meant to replace Go's error wrapping — it's attached to an Error
// so that callers who need to branch on the kind
// (the quorum layer counting successes, the gRPC adapter picking a status
// code) can do so with errors.As instead of string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindKeyNotFound
	KindDuplicateKey
	KindVDiskNotReady
	KindVDiskNotFound
	KindTimeout
	KindUnreachable
	KindRemoteError
	KindStorageError
	KindQuorumFailed
	KindInvalidConfig
)

func (k Kind) String() string {
	switch k {
	case KindKeyNotFound:
		return "KeyNotFound"
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindVDiskNotReady:
		return "VDiskNotReady"
	case KindVDiskNotFound:
		return "VDiskNotFound"
	case KindTimeout:
		return "Timeout"
	case KindUnreachable:
		return "Unreachable"
	case KindRemoteError:
		return "RemoteError"
	case KindStorageError:
		return "StorageError"
	case KindQuorumFailed:
		return "QuorumFailed"
	case KindInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// Error is the common error type returned across the engine. Detail carries
// a human-readable message; Cause, when set, is the wrapped underlying
// error (preserved for %w / errors.Is / errors.Unwrap chains).
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an *Error around an existing error.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

var (
	// ErrKeyNotFound is the sentinel normal-negative GET result.
	ErrKeyNotFound = New(KindKeyNotFound, "key not found")
	// ErrVDiskNotReady is returned by a Holder that hasn't finished Prepare.
	ErrVDiskNotReady = New(KindVDiskNotReady, "vdisk not ready")
	// ErrVDiskNotFound is returned when the mapper or backend can't resolve
	// an operation's target.
	ErrVDiskNotFound = New(KindVDiskNotFound, "vdisk not found")
)
