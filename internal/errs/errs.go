package errs

import (
	"errors"
	"fmt"
)

// Sentinels
var (
	ErrTransient          = errors.New("transient network error")
	ErrAuthentication     = errors.New("authentication rejected")
	ErrHandshakeTimeout   = errors.New("handshake timeout")
	ErrBufferOverflow     = errors.New("buffer overflow, oldest entry evicted")
	ErrConfiguration      = errors.New("invalid configuration")
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")
	ErrNotConnected       = errors.New("not connected")
	ErrClosed             = errors.New("already closed")
)

// NetworkError is a failure that the connection manager retries with backoff.
type NetworkError struct {
	Op  string // "dial", "read", "write", "heartbeat"
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + ErrTransient.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is reports every NetworkError as ErrTransient.
func (e *NetworkError) Is(target error) bool {
	return target == ErrTransient
}

// Transient wraps err as a NetworkError for op. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: op, Err: err}
}

// AuthError reports rejected credentials. It is never retried.
type AuthError struct {
	Reason     string
	StatusCode int // HTTP status of the rejected upgrade, 0 when rejected locally
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", ErrAuthentication, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrAuthentication, e.Reason)
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuthentication
}

// ConfigError reports an invalid option at construction time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// Config builds a ConfigError with a formatted reason.
func Config(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err should trigger a reconnection attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) && !errors.Is(err, ErrAuthentication)
}

// IsAuth reports whether err is an authentication rejection.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
