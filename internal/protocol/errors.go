package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorType represents the category of a protocol error
type ErrorType int

const (
	// ErrTypeMalformedFrame indicates a frame that cannot be parsed (short, bad magic, bad length, unknown command)
	ErrTypeMalformedFrame ErrorType = iota
	// ErrTypeIntegrity indicates a CRC32 or HMAC trailer mismatch
	ErrTypeIntegrity
	// ErrTypeCrypto indicates a decryption failure (bad tag, bad padding, bad ciphertext length)
	ErrTypeCrypto
	// ErrTypeHandshake indicates a failed session key negotiation
	ErrTypeHandshake
	// ErrTypeTimeout indicates a request whose response never arrived
	ErrTypeTimeout
	// ErrTypeTransport indicates a socket level failure
	ErrTypeTransport
	// ErrTypeConfig indicates invalid configuration or API misuse
	ErrTypeConfig
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeMalformedFrame:
		return "Malformed Frame"
	case ErrTypeIntegrity:
		return "Integrity Error"
	case ErrTypeCrypto:
		return "Crypto Error"
	case ErrTypeHandshake:
		return "Handshake Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeTransport:
		return "Transport Error"
	case ErrTypeConfig:
		return "Configuration Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Sentinel errors wrapped by *Error. Match them with errors.Is.
var (
	ErrFrameTooShort      = errors.New("frame too short")
	ErrIncompleteFrame    = errors.New("incomplete frame")
	ErrBadPrefix          = errors.New("prefix does not match")
	ErrBadSuffix          = errors.New("suffix does not match")
	ErrLengthMismatch     = errors.New("declared length inconsistent with frame")
	ErrUnknownCommand     = errors.New("unsupported command")
	ErrCRCMismatch        = errors.New("CRC mismatch")
	ErrHMACMismatch       = errors.New("HMAC mismatch")
	ErrInvalidKey         = errors.New("key must be exactly 16 bytes")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrPayloadType        = errors.New("unsupported payload type")
	ErrNotReady           = errors.New("connection not ready")
	ErrRequestTimeout     = errors.New("timed out waiting for response")
	ErrClosed             = errors.New("connection closed")
	ErrHandshake          = errors.New("session key negotiation failed")
)

// TransportSubtype narrows down a transport error
type TransportSubtype int

const (
	TransportGeneral TransportSubtype = iota
	TransportTimeout
	TransportRefused
	TransportReset
	TransportClosed
	TransportUnreachable
	TransportDNS
)

// Error is the error type returned by the codec and the connection
type Error struct {
	Type      ErrorType        // Category of error
	Message   string           // Human-readable error message
	Err       error            // Underlying error (if any)
	Subtype   TransportSubtype // Only meaningful for ErrTypeTransport
	Retryable bool             // Whether reconnecting may help
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// NewMalformedError creates a malformed frame error
func NewMalformedError(err error, format string, args ...any) *Error {
	return &Error{Type: ErrTypeMalformedFrame, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewIntegrityError creates an integrity trailer error
func NewIntegrityError(err error, format string, args ...any) *Error {
	return &Error{Type: ErrTypeIntegrity, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewCryptoError creates a decryption error
func NewCryptoError(err error, format string, args ...any) *Error {
	return &Error{Type: ErrTypeCrypto, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewHandshakeError creates a session key negotiation error
func NewHandshakeError(format string, args ...any) *Error {
	return &Error{Type: ErrTypeHandshake, Message: fmt.Sprintf(format, args...), Err: ErrHandshake}
}

// WrapHandshakeError creates a session key negotiation error caused by err
func WrapHandshakeError(err error, format string, args ...any) *Error {
	return &Error{Type: ErrTypeHandshake, Message: fmt.Sprintf(format, args...), Err: fmt.Errorf("%w: %w", ErrHandshake, err)}
}

// NewClosedError creates the transport error reported after a deliberate disconnect
func NewClosedError(addr string) *Error {
	return &Error{
		Type:    ErrTypeTransport,
		Message: fmt.Sprintf("disconnected from %s", addr),
		Err:     ErrClosed,
		Subtype: TransportClosed,
	}
}

// NewConfigError creates a configuration error
func NewConfigError(err error, format string, args ...any) *Error {
	return &Error{Type: ErrTypeConfig, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewTimeoutError creates a request timeout error
func NewTimeoutError(format string, args ...any) *Error {
	return &Error{Type: ErrTypeTimeout, Message: fmt.Sprintf(format, args...), Err: ErrRequestTimeout, Retryable: true}
}

// ClassifyNetworkError wraps a socket error as a transport error
func ClassifyNetworkError(err error, addr string) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	e := &Error{
		Type:      ErrTypeTransport,
		Err:       err,
		Subtype:   TransportGeneral,
		Retryable: true,
	}

	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		e.Message = fmt.Sprintf("cannot resolve %s", addr)
		e.Subtype = TransportDNS
		e.Retryable = dnsErr.IsTemporary
	case isTimeout(err):
		e.Message = fmt.Sprintf("timed out talking to %s", addr)
		e.Subtype = TransportTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		e.Message = fmt.Sprintf("%s refused connection", addr)
		e.Subtype = TransportRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		e.Message = fmt.Sprintf("connection to %s reset", addr)
		e.Subtype = TransportReset
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		e.Message = fmt.Sprintf("connection to %s closed", addr)
		e.Subtype = TransportClosed
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		e.Message = fmt.Sprintf("%s unreachable", addr)
		e.Subtype = TransportUnreachable
	default:
		e.Message = fmt.Sprintf("network error talking to %s", addr)
	}
	return e
}

// TypeOf returns the ErrorType of err, or false if err is not an *Error
func TypeOf(err error) (ErrorType, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Type, true
	}
	return 0, false
}

// IsRetryable reports whether reconnecting after err may succeed
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
