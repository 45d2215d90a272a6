package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNetworkError_IsTransient(t *testing.T) {
	err := Transient("dial", context.DeadlineExceeded)

	if !errors.Is(err, ErrTransient) {
		t.Error("expected NetworkError to match ErrTransient")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected NetworkError to unwrap to the cause")
	}
	if !IsTransient(err) {
		t.Error("IsTransient() = false, want true")
	}
	if IsAuth(err) {
		t.Error("IsAuth() = true, want false")
	}
}

func TestTransient_Nil(t *testing.T) {
	if err := Transient("read", nil); err != nil {
		t.Errorf("Transient(nil) = %v, want nil", err)
	}
}

func TestHandshakeTimeout_IsBothTimeoutAndTransient(t *testing.T) {
	err := fmt.Errorf("connect: %w", Transient("dial", ErrHandshakeTimeout))

	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Error("expected ErrHandshakeTimeout")
	}
	if !IsTransient(err) {
		t.Error("handshake timeout should be retried")
	}
}

func TestAuthError(t *testing.T) {
	err := fmt.Errorf("connect: %w", &AuthError{Reason: "token expired", StatusCode: 401})

	if !IsAuth(err) {
		t.Error("IsAuth() = false, want true")
	}
	if IsTransient(err) {
		t.Error("auth errors must not be retried")
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatal("errors.As failed")
	}
	if authErr.StatusCode != 401 {
		t.Errorf("StatusCode = %d, want 401", authErr.StatusCode)
	}
	want := "authentication rejected (status 401): token expired"
	if authErr.Error() != want {
		t.Errorf("Error() = %q, want %q", authErr.Error(), want)
	}
}

func TestConfigError(t *testing.T) {
	err := Config("store.ring_buffer_capacity", "must be >= 1, got %d", -3)

	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected ErrConfiguration")
	}
	want := "store.ring_buffer_capacity: must be >= 1, got -3"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
