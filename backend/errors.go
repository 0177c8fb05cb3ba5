package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task or list id is unknown to the provider.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned when a request is missing required data.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthenticated is returned when a remote provider has no usable token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnavailable is returned when a provider cannot be reached.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrUnsupported is returned for operations a provider cannot perform.
	ErrUnsupported = errors.New("operation not supported")
)

// Reason is the machine-readable failure class carried by the protocol envelope.
type Reason string

const (
	ReasonNotFound        Reason = "not_found"
	ReasonInvalidArgument Reason = "invalid_argument"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonUnsupported     Reason = "unsupported"
	ReasonInternal        Reason = "internal"
)

// ReasonOf classifies an error returned by a provider.
func ReasonOf(err error) Reason {
	switch {
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrInvalidArgument):
		return ReasonInvalidArgument
	case errors.Is(err, ErrUnauthenticated):
		return ReasonUnauthenticated
	case errors.Is(err, ErrUnsupported):
		return ReasonUnsupported
	default:
		return ReasonInternal
	}
}

// Sentinel returns the sentinel error matching the reason, or nil for internal failures.
func (r Reason) Sentinel() error {
	switch r {
	case ReasonNotFound:
		return ErrNotFound
	case ReasonInvalidArgument:
		return ErrInvalidArgument
	case ReasonUnauthenticated:
		return ErrUnauthenticated
	case ReasonUnsupported:
		return ErrUnsupported
	default:
		return nil
	}
}

// ConnectionError reports that a provider could not be reached at all.
type ConnectionError struct {
	Provider string
	Addr     string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s unavailable at %s", e.Provider, e.Addr)
	}
	return fmt.Sprintf("provider %s unavailable at %s: %v", e.Provider, e.Addr, e.Err)
}

// Unwrap lets errors.Is match both ErrUnavailable and the transport cause.
func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnavailable}
	}
	return []error{ErrUnavailable, e.Err}
}

// OperationFailedError reports that the provider was reached but rejected
// the operation. Message is always user-displayable.
type OperationFailedError struct {
	Provider string
	Method   string
	Reason   Reason
	Message  string
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Method, e.Message)
}

// Unwrap returns the sentinel matching the failure reason.
func (e *OperationFailedError) Unwrap() error {
	return e.Reason.Sentinel()
}

// ConversionError reports that a record could not be represented on the
// other side of a model conversion. It indicates a schema mismatch.
type ConversionError struct {
	Provider string
	Field    string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: cannot convert field %s: %v", e.Provider, e.Field, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// AuthError reports a missing, expired or unrefreshable token. It requires
// re-authorization rather than a retry.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: authorization required", e.Provider)
	}
	return fmt.Sprintf("%s: authorization required: %v", e.Provider, e.Err)
}

// Unwrap lets errors.Is match both ErrUnauthenticated and the cause.
func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnauthenticated}
	}
	return []error{ErrUnauthenticated, e.Err}
}

// NotFoundf builds an ErrNotFound-wrapping error.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidArgumentf builds an ErrInvalidArgument-wrapping error.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
