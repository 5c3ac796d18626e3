package vmm

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIErrorMessageIncludesStatus(t *testing.T) {
	err := &APIError{Method: "PUT", Path: "/boot-source", Status: 400, Body: "bad kernel path"}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty message")
	}
	if !errors.As(fmt.Errorf("wrapped: %w", err), new(*APIError)) {
		t.Fatal("expected errors.As to unwrap a wrapped *APIError")
	}
}

func TestProcessNotKilledErrorUnwraps(t *testing.T) {
	cause := errors.New("operation not permitted")
	err := &ProcessNotKilledError{PID: 42, Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}
