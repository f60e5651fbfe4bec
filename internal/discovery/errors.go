package discovery

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorType represents the category of a discovery failure
type ErrorType int

const (
	// ErrTypeConfiguration indicates invalid caller input (empty payload, bad port, bad timeout)
	ErrTypeConfiguration ErrorType = iota
	// ErrTypeNotSupported indicates an option value the detector does not implement
	ErrTypeNotSupported
	// ErrTypeSource indicates the interface source could not enumerate interfaces
	ErrTypeSource
	// ErrTypeBind indicates a socket could not bind to its local endpoint
	ErrTypeBind
	// ErrTypeTransport indicates an unexpected send or receive failure
	ErrTypeTransport
)

// Sentinel causes carried by configuration errors, for use with errors.Is
var (
	ErrEmptyPayload            = errors.New("hello payload is empty")
	ErrInvalidPort             = errors.New("port out of range")
	ErrInvalidTimeout          = errors.New("receive timeout must be positive")
	ErrUnsupportedResponsePort = errors.New("unsupported response port policy")
	ErrInvalidDestination      = errors.New("destination is not an IPv4 address")
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeConfiguration:
		return "Configuration Error"
	case ErrTypeNotSupported:
		return "Not Supported"
	case ErrTypeSource:
		return "Interface Source Error"
	case ErrTypeBind:
		return "Bind Error"
	case ErrTypeTransport:
		return "Transport Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// ScanError describes a failure of a whole scan (configuration, source) or of
// a single interface task (bind, transport).
type ScanError struct {
	Type      ErrorType // Category of error
	Message   string    // Human-readable error message
	Interface string    // Interface IP the failure belongs to (empty for whole-scan errors)
	Addr      string    // Local or remote endpoint involved, if any
	Err       error     // Underlying error (if any)
}

// Error implements the error interface
func (e *ScanError) Error() string {
	msg := e.Message
	if e.Interface != "" {
		msg = fmt.Sprintf("%s [interface %s]", msg, e.Interface)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ScanError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err rejected a scan before any socket
// work began.
func IsConfigurationError(err error) bool {
	var scanErr *ScanError
	if !errors.As(err, &scanErr) {
		return false
	}
	return scanErr.Type == ErrTypeConfiguration || scanErr.Type == ErrTypeNotSupported
}

// IsBindError reports whether err is a socket bind failure.
func IsBindError(err error) bool {
	var scanErr *ScanError
	return errors.As(err, &scanErr) && scanErr.Type == ErrTypeBind
}

func newConfigError(cause error, format string, args ...any) *ScanError {
	return &ScanError{
		Type:    ErrTypeConfiguration,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// newBindError classifies a failed bind on addr.
func newBindError(addr *net.UDPAddr, err error) *ScanError {
	msg := fmt.Sprintf("failed to bind %s", addr)
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		msg = fmt.Sprintf("address %s already in use", addr)
	case errors.Is(err, syscall.EADDRNOTAVAIL):
		msg = fmt.Sprintf("address %s not available on this host", addr)
	case errors.Is(err, syscall.EACCES):
		msg = fmt.Sprintf("permission denied binding %s", addr)
	}

	return &ScanError{
		Type:    ErrTypeBind,
		Message: msg,
		Addr:    addr.String(),
		Err:     err,
	}
}

func newTransportError(op string, addr net.Addr, err error) *ScanError {
	e := &ScanError{
		Type:    ErrTypeTransport,
		Message: op + " failed",
		Err:     err,
	}
	if addr != nil {
		e.Addr = addr.String()
	}
	return e
}

// withInterface tags err with the interface it happened on when it is a *ScanError.
func withInterface(err error, iface string) error {
	var scanErr *ScanError
	if errors.As(err, &scanErr) && scanErr.Interface == "" {
		scanErr.Interface = iface
	}
	return err
}
