// Package errs defines the mesh-wide error taxonomy. Every component
// wraps one of a small set of containerd/errdefs sentinels so callers
// can classify a failure with errdefs.IsNotFound / errdefs.IsUnavailable
// etc. instead of matching on error strings.
package errs

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// Component names used in New's Component field.
const (
	CompDiscovery  = "discovery"
	CompHandshake  = "handshake"
	CompConnection = "connection"
	CompTransport  = "transport"
	CompProtocol   = "protocol"
	CompRouter     = "router"
	CompState      = "state"
)

// Error carries a containerd/errdefs-classified sentinel plus the
// component and a human detail, satisfying the "typed error objects
// carrying both kind and context" requirement.
type Error struct {
	Component string
	Sentinel  error
	Detail    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Sentinel, e.Detail)
}

func (e *Error) Unwrap() error { return e.Sentinel }

func newErr(component string, sentinel error, format string, args ...any) *Error {
	return &Error{Component: component, Sentinel: sentinel, Detail: fmt.Sprintf(format, args...)}
}

// Discovery errors.

func ProviderUnavailable(format string, args ...any) error {
	return newErr(CompDiscovery, errdefs.ErrUnavailable, format, args...)
}

func MalformedRecord(format string, args ...any) error {
	return newErr(CompDiscovery, errdefs.ErrInvalidArgument, format, args...)
}

// Handshake errors.

func HandshakeTimeout(format string, args ...any) error {
	return newErr(CompHandshake, errdefs.ErrDeadlineExceeded, format, args...)
}

func VersionMismatch(format string, args ...any) error {
	return newErr(CompHandshake, errdefs.ErrInvalidArgument, format, args...)
}

func WrongPeer(format string, args ...any) error {
	return newErr(CompHandshake, errdefs.ErrInvalidArgument, format, args...)
}

func MalformedHandshake(format string, args ...any) error {
	return newErr(CompHandshake, errdefs.ErrInvalidArgument, format, args...)
}

// Connection errors.

func NotConnected(format string, args ...any) error {
	return newErr(CompConnection, errdefs.ErrUnavailable, format, args...)
}

func DuplicateConnection(format string, args ...any) error {
	return newErr(CompConnection, errdefs.ErrAlreadyExists, format, args...)
}

func PeerInitiatedClose(format string, args ...any) error {
	return newErr(CompConnection, errdefs.ErrAborted, format, args...)
}

// Transport errors.

func SendFailed(format string, args ...any) error {
	return newErr(CompTransport, errdefs.ErrUnavailable, format, args...)
}

func AckTimeout(format string, args ...any) error {
	return newErr(CompTransport, errdefs.ErrDeadlineExceeded, format, args...)
}

func ReassemblyCapExceeded(format string, args ...any) error {
	return newErr(CompTransport, errdefs.ErrResourceExhausted, format, args...)
}

// Protocol errors.

func BadMagic(format string, args ...any) error {
	return newErr(CompProtocol, errdefs.ErrInvalidArgument, format, args...)
}

func BadVersion(format string, args ...any) error {
	return newErr(CompProtocol, errdefs.ErrInvalidArgument, format, args...)
}

func BadContext(format string, args ...any) error {
	return newErr(CompProtocol, errdefs.ErrInvalidArgument, format, args...)
}

func HashCollision(format string, args ...any) error {
	return newErr(CompProtocol, errdefs.ErrConflict, format, args...)
}

// Router errors.

func NoRoute(format string, args ...any) error {
	return newErr(CompRouter, errdefs.ErrNotFound, format, args...)
}

func LoopDetected(format string, args ...any) error {
	return newErr(CompRouter, errdefs.ErrFailedPrecondition, format, args...)
}

func HopsExceeded(format string, args ...any) error {
	return newErr(CompRouter, errdefs.ErrFailedPrecondition, format, args...)
}

func ClassifierUnknown(format string, args ...any) error {
	return newErr(CompRouter, errdefs.ErrInvalidArgument, format, args...)
}

// State errors.

func InvalidStateForOperation(format string, args ...any) error {
	return newErr(CompState, errdefs.ErrFailedPrecondition, format, args...)
}

func Shutdown(format string, args ...any) error {
	return newErr(CompState, errdefs.ErrCanceled, format, args...)
}
