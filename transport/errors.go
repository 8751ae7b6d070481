package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Error categories. TransportError.Category always holds one of these
// so callers can classify failures with errors.Is.
var (
	ErrTimeout    = errors.New("timeout")
	ErrDNS        = errors.New("dns failure")
	ErrTLS        = errors.New("tls failure")
	ErrConnection = errors.New("connection failure")
	ErrRefused    = errors.New("connection refused")
	ErrProtocol   = errors.New("protocol error")
	ErrClosed     = errors.New("transport closed")
)

// TransportError wraps a failure with enough context to log and classify it.
type TransportError struct {
	Op       string
	Host     string
	Port     string
	Protocol string
	Cause    error
	Category error
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s:%s (%s): %v", e.Op, e.Host, e.Port, e.Protocol, e.Cause)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Host, e.Protocol, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on the category as well as the cause chain.
func (e *TransportError) Is(target error) bool {
	return target == e.Category
}

// NewDNSError wraps a resolution failure.
func NewDNSError(host string, cause error) *TransportError {
	return &TransportError{
		Op:       "resolve",
		Host:     host,
		Protocol: "dns",
		Cause:    cause,
		Category: ErrDNS,
	}
}

// NewTLSError wraps a handshake failure.
func NewTLSError(op, host, port, proto string, cause error) *TransportError {
	return &TransportError{
		Op:       op,
		Host:     host,
		Port:     port,
		Protocol: proto,
		Cause:    cause,
		Category: ErrTLS,
	}
}

// NewConnectionError wraps a dial or I/O failure, classifying timeouts
// and refusals.
func NewConnectionError(op, host, port, proto string, cause error) *TransportError {
	return &TransportError{
		Op:       op,
		Host:     host,
		Port:     port,
		Protocol: proto,
		Cause:    cause,
		Category: classify(cause),
	}
}

// WrapError wraps an arbitrary request failure.
func WrapError(op, host, port, proto string, cause error) *TransportError {
	var te *TransportError
	if errors.As(cause, &te) {
		return te
	}
	return &TransportError{
		Op:       op,
		Host:     host,
		Port:     port,
		Protocol: proto,
		Cause:    cause,
		Category: classify(cause),
	}
}

func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ErrConnection
	default:
		return ErrConnection
	}
}
