// Package provider holds the error taxonomy shared by all remote insurance and payment clients.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// TransportError means the remote call could not be completed. Callers map it to 5xx and may retry.
type TransportError struct {
	Provider   string
	Op         string
	StatusCode int // zero when no response arrived
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: %s: transport failure", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// BusinessError means the provider completed the call and rejected the input.
type BusinessError struct {
	Provider string
	Op       string
	Message  string
	Errors   []string
}

func (e *BusinessError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Errors) > 0 {
		return strings.Join(e.Errors, "; ")
	}
	return fmt.Sprintf("%s: %s: rejected", e.Provider, e.Op)
}

// Detail is the text shown to the caller: the literal message plus itemized errors.
func (e *BusinessError) Detail() string {
	parts := make([]string, 0, 1+len(e.Errors))
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	for _, item := range e.Errors {
		if item = strings.TrimSpace(item); item != "" && item != e.Message {
			parts = append(parts, item)
		}
	}
	if len(parts) == 0 {
		return e.Error()
	}
	return strings.Join(parts, "; ")
}

// ErrMalformedResponse marks a 2xx body that carried neither a result nor a fault.
var ErrMalformedResponse = errors.New("malformed provider response")

// NewTransportError classifies err, flagging deadline and network timeouts.
func NewTransportError(providerName, op string, statusCode int, err error) *TransportError {
	te := &TransportError{Provider: providerName, Op: op, StatusCode: statusCode, Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		te.Timeout = true
	}
	return te
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsBusiness reports whether err is, or wraps, a BusinessError.
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}
