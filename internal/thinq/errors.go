package thinq

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the backend result codes we act on. Anything else
// surfaces as an *APIError carrying the raw code.
var (
	ErrNotLoggedIn        = errors.New("thinq: session not logged in")
	ErrInvalidCredential  = errors.New("thinq: invalid credential")
	ErrDeviceNotFound     = errors.New("thinq: device not found")
	ErrDeviceNotConnected = errors.New("thinq: device not connected")
	ErrFailedRequest      = errors.New("thinq: request failed")
)

// resultErrors maps backend result codes to sentinels. "9999" comes back for
// a grab bag of server-side conditions; treating it as not-connected matches
// what the vendor app does.
var resultErrors = map[string]error{
	"0101": ErrDeviceNotFound,
	"0102": ErrNotLoggedIn,
	"0106": ErrDeviceNotConnected,
	"0100": ErrFailedRequest,
	"0110": ErrInvalidCredential,
	"9999": ErrDeviceNotConnected,
}

// APIError is a non-success result envelope from the backend.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("thinq api error %s", e.Code)
	}
	return fmt.Sprintf("thinq api error %s: %s", e.Code, strings.TrimSpace(e.Message))
}

// TransportError is a network-level failure: connection, timeout, or a
// response that never reached a parseable result envelope. Callers retry
// these with backoff; they never indicate anything about the account.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("thinq transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried with backoff rather
// than surfaced to the consumer.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrDeviceNotConnected)
}

func resultError(code, message string) error {
	if err, ok := resultErrors[code]; ok {
		return err
	}
	return &APIError{Code: code, Message: message}
}
