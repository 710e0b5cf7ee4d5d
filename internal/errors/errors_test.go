package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestLensError_Error(t *testing.T) {
	err := &LensError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "session not found",
	}

	expected := "NOT_FOUND: session not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("prediction_id is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "prediction_id is required" {
		t.Errorf("Message = %q, want %q", err.Message, "prediction_id is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("prediction", "p-1")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Message != "prediction not found: p-1" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Details["identifier"] != "p-1" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "p-1")
	}
}

func TestNewInvalidState(t *testing.T) {
	err := NewInvalidState("apply", "viewing")

	if err.Code != ErrInvalidState {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidState)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	if err.Details["operation"] != "apply" || err.Details["state"] != "viewing" {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestNewDocumentTooLarge(t *testing.T) {
	err := NewDocumentTooLarge(1024, 4096)

	if err.Status != 413 {
		t.Errorf("Status = %d, want 413", err.Status)
	}
	if err.Details["max_bytes"] != 1024 {
		t.Errorf("Details[max_bytes] = %v, want 1024", err.Details["max_bytes"])
	}
	if err.Details["actual_bytes"] != 4096 {
		t.Errorf("Details[actual_bytes] = %v, want 4096", err.Details["actual_bytes"])
	}
}

func TestNewMalformedDocument(t *testing.T) {
	cause := fmt.Errorf("unexpected EOF")
	err := NewMalformedDocument(cause)

	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestNewSubmitFailed(t *testing.T) {
	err := NewSubmitFailed(fmt.Errorf("sink offline"))

	if err.Code != ErrSubmitFailed {
		t.Errorf("Code = %q, want %q", err.Code, ErrSubmitFailed)
	}
	if err.Status != 502 {
		t.Errorf("Status = %d, want 502", err.Status)
	}
	if err.Message != "feedback submission failed: sink offline" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("database connection failed"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		// Message should be generic (not leak internal details)
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewNotFound("session", "x"), ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewNotFound("session", "x"), ErrInvalidState) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-LensError", func(t *testing.T) {
		if Is(fmt.Errorf("plain error"), ErrNotFound) {
			t.Error("Is() = true, want false for non-LensError")
		}
	})

	t.Run("wrapped LensError", func(t *testing.T) {
		wrapped := fmt.Errorf("spans[0]: %w", NewInvalidState("apply", "viewing"))
		if !Is(wrapped, ErrInvalidState) {
			t.Error("Is() = false, want true for wrapped LensError")
		}
	})
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("select: %w", NewNotFound("prediction", "p9"))
	lErr, ok := As(wrapped)
	if !ok {
		t.Fatal("As should find the wrapped LensError")
	}
	if lErr.Code != ErrNotFound {
		t.Errorf("Code = %q, want NOT_FOUND", lErr.Code)
	}
	if _, ok := As(stderrors.New("plain")); ok {
		t.Error("As should not match a plain error")
	}
}
