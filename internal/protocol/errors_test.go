package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
)

// timeoutError is a mock error that implements timeout behavior
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		subtype   TransportSubtype
		retryable bool
	}{
		{
			name:      "dial timeout",
			err:       &net.OpError{Op: "dial", Net: "tcp", Err: &timeoutError{}},
			subtype:   TransportTimeout,
			retryable: true,
		},
		{
			name:      "refused",
			err:       &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			subtype:   TransportRefused,
			retryable: true,
		},
		{
			name:      "reset",
			err:       &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET},
			subtype:   TransportReset,
			retryable: true,
		},
		{
			name:      "eof",
			err:       fmt.Errorf("read: %w", io.EOF),
			subtype:   TransportClosed,
			retryable: true,
		},
		{
			name:      "unreachable",
			err:       &net.OpError{Op: "dial", Net: "tcp", Err: syscall.EHOSTUNREACH},
			subtype:   TransportUnreachable,
			retryable: true,
		},
		{
			name:      "dns",
			err:       &net.DNSError{Err: "no such host", Name: "plug.local", IsNotFound: true},
			subtype:   TransportDNS,
			retryable: false,
		},
		{
			name:      "other",
			err:       errors.New("boom"),
			subtype:   TransportGeneral,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyNetworkError(tt.err, "10.0.0.2:6668")
			if got == nil {
				t.Fatal("ClassifyNetworkError() = nil")
			}
			if got.Type != ErrTypeTransport {
				t.Errorf("Type = %v, want %v", got.Type, ErrTypeTransport)
			}
			if got.Subtype != tt.subtype {
				t.Errorf("Subtype = %v, want %v", got.Subtype, tt.subtype)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error does not wrap the original")
			}
			if IsRetryable(got) != tt.retryable {
				t.Errorf("IsRetryable() = %v", IsRetryable(got))
			}
		})
	}
}

func TestClassifyNetworkError_PassesThroughTypedErrors(t *testing.T) {
	if ClassifyNetworkError(nil, "addr") != nil {
		t.Error("nil error should classify to nil")
	}

	orig := NewTimeoutError("no response")
	if got := ClassifyNetworkError(fmt.Errorf("wrapped: %w", orig), "addr"); got != orig {
		t.Errorf("got %v, want the original *Error", got)
	}
}

func TestError_Chain(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		wantType ErrorType
		sentinel error
	}{
		{"malformed", NewMalformedError(ErrBadSuffix, "frame at %d", 0), ErrTypeMalformedFrame, ErrBadSuffix},
		{"integrity", NewIntegrityError(ErrCRCMismatch, "STATUS"), ErrTypeIntegrity, ErrCRCMismatch},
		{"handshake", NewHandshakeError("short payload"), ErrTypeHandshake, ErrHandshake},
		{"wrapped handshake", WrapHandshakeError(ErrRequestTimeout, "start"), ErrTypeHandshake, ErrRequestTimeout},
		{"config", NewConfigError(ErrInvalidKey, "got 15 bytes"), ErrTypeConfig, ErrInvalidKey},
		{"timeout", NewTimeoutError("seq %d", 4), ErrTypeTimeout, ErrRequestTimeout},
		{"closed", NewClosedError("host:6668"), ErrTypeTransport, ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error = tt.err
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
			if typ, ok := TypeOf(fmt.Errorf("outer: %w", err)); !ok || typ != tt.wantType {
				t.Errorf("TypeOf() = %v, %v; want %v", typ, ok, tt.wantType)
			}
			if !strings.HasPrefix(err.Error(), tt.wantType.String()) {
				t.Errorf("Error() = %q, want prefix %q", err.Error(), tt.wantType)
			}
		})
	}

	if !errors.Is(WrapHandshakeError(ErrRequestTimeout, "start"), ErrHandshake) {
		t.Error("wrapped handshake error should also match ErrHandshake")
	}
	if _, ok := TypeOf(errors.New("plain")); ok {
		t.Error("TypeOf(plain error) reported ok")
	}
}
