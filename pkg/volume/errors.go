package volume

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories the control plane and I/O
// path can raise.
type Kind int

const (
	// KindNotFound indicates the named volume or replica does not exist.
	KindNotFound Kind = iota
	// KindDuplicateName indicates a create call for a name already in use.
	KindDuplicateName
	// KindInvalidArgument indicates a malformed or out-of-range request.
	KindInvalidArgument
	// KindOutOfMemory indicates a transient allocation failure on the I/O
	// path; callers queue and retry rather than surface it to the user.
	KindOutOfMemory
	// KindBusy indicates the volume's try-lock is already held.
	KindBusy
	// KindAlreadyDestroying indicates an operation raced a volume removal
	// already in progress.
	KindAlreadyDestroying
	// KindInvalidGeometry indicates a base replica's block_length does not
	// match the volume's, or the replica has fewer blocks than the volume.
	KindInvalidGeometry
	// KindBaseDeviceUnavailable indicates a base replica is unreachable.
	KindBaseDeviceUnavailable
	// KindIoFailed indicates a sub-channel I/O completed with an error.
	KindIoFailed
	// KindFatal indicates an unrecoverable internal invariant violation.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicateName:
		return "duplicate_name"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindBusy:
		return "busy"
	case KindAlreadyDestroying:
		return "already_destroying"
	case KindInvalidGeometry:
		return "invalid_geometry"
	case KindBaseDeviceUnavailable:
		return "base_device_unavailable"
	case KindIoFailed:
		return "io_failed"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a message and an optional cause. errors.Is
// matches another *Error of the same Kind, errors.As extracts the *Error,
// and KindOf reads the Kind from a wrapped chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, volume.NewError(SomeKind, "")) to match any
// *Error of the same Kind regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError constructs an *Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError constructs an *Error of the given kind wrapping cause.
func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
