package sandbox_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zerobuild/zerobuild/pkg/sandbox"
)

func TestTimeoutError_Message(t *testing.T) {
	err := &sandbox.TimeoutError{After: 100 * time.Millisecond}
	want := "timed out after 100ms"
	if err.Error() != want {
		t.Errorf("Error() = %q; want %q", err.Error(), want)
	}
}

func TestIsTimeout(t *testing.T) {
	plain := &sandbox.TimeoutError{After: time.Second}
	wrapped := fmt.Errorf("run command: %w", plain)

	if !sandbox.IsTimeout(plain) {
		t.Error("IsTimeout(TimeoutError) = false")
	}
	if !sandbox.IsTimeout(wrapped) {
		t.Error("IsTimeout(wrapped TimeoutError) = false")
	}
	if sandbox.IsTimeout(errors.New("timed out after 100ms")) {
		t.Error("IsTimeout matched a plain error by message")
	}
	if sandbox.IsTimeout(nil) {
		t.Error("IsTimeout(nil) = true")
	}
}

func TestAPIError_PreservesStatusAndBody(t *testing.T) {
	err := &sandbox.APIError{Op: "create sandbox", Status: 502, Body: `{"error":"no capacity"}`}

	var apiErr *sandbox.APIError
	if !errors.As(error(err), &apiErr) {
		t.Fatal("errors.As failed on APIError")
	}
	if apiErr.Status != 502 {
		t.Errorf("Status = %d; want 502", apiErr.Status)
	}
	msg := err.Error()
	for _, fragment := range []string{"create sandbox", "502", "no capacity"} {
		if !strings.Contains(msg, fragment) {
			t.Errorf("Error() = %q; missing %q", msg, fragment)
		}
	}
}

func TestNotFoundIsDistinctFromTimeout(t *testing.T) {
	nf := fmt.Errorf("read file: /app/missing.txt: %w", sandbox.ErrNotFound)

	if !errors.Is(nf, sandbox.ErrNotFound) {
		t.Error("wrapped ErrNotFound not matched by errors.Is")
	}
	if sandbox.IsTimeout(nf) {
		t.Error("ErrNotFound matched as timeout")
	}
	if errors.Is(nf, sandbox.ErrNoActiveSandbox) {
		t.Error("ErrNotFound matched ErrNoActiveSandbox")
	}
}
