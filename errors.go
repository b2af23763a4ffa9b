package haieriot

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredentials = errors.New("username or password is empty")
	ErrNotConnected       = errors.New("push channel not connected")
	ErrConnectTimeout     = errors.New("push channel connect timeout")
	ErrClosed             = errors.New("closed")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrAttributeNotFound  = errors.New("attribute not found")
	ErrNotWritable        = errors.New("attribute not writable")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrDecode             = errors.New("decode failed")
)

// APIError is a response envelope whose retCode is not the success sentinel.
type APIError struct {
	Endpoint string
	RetCode  string
	RetInfo  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s - [%s]: %s", e.Endpoint, e.RetCode, e.RetInfo)
}

// TransportError is a failure to reach an endpoint or a non-2xx HTTP status.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError wraps a failed login.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
