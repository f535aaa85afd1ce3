package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestWrapCallError(t *testing.T) {
	t.Run("deadline becomes timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()

		err := wrapCallError(ctx, "ollama", "chat", 5*time.Minute, ctx.Err())
		if !IsTimeout(err) {
			t.Fatalf("expected TimeoutError, got %T: %v", err, err)
		}
		if !strings.Contains(err.Error(), "chat timed out after 5m") {
			t.Errorf("unexpected message: %v", err)
		}
	})

	t.Run("other errors become backend errors", func(t *testing.T) {
		err := wrapCallError(context.Background(), "gemini", "chat", time.Minute,
			fmt.Errorf("connection refused"))
		var be *BackendError
		if !errors.As(err, &be) {
			t.Fatalf("expected BackendError, got %T", err)
		}
		if be.Provider != "gemini" || !strings.Contains(be.Message, "connection refused") {
			t.Errorf("unexpected error: %+v", be)
		}
	})
}

func TestIsTimeout(t *testing.T) {
	te := &TimeoutError{Provider: "ollama", Op: "chat", Limit: time.Minute}
	if !IsTimeout(te) {
		t.Error("direct TimeoutError not detected")
	}
	if !IsTimeout(fmt.Errorf("call failed: %w", te)) {
		t.Error("wrapped TimeoutError not detected")
	}
	if IsTimeout(errors.New("plain")) {
		t.Error("plain error misdetected as timeout")
	}
}

func TestBackendErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  *BackendError
		want string
	}{
		{
			name: "http status",
			err:  newBackendError("openrouter", 429, "rate limited"),
			want: "openrouter: backend error 429: rate limited",
		},
		{
			name: "no status",
			err:  newBackendError("ollama", 0, "connection refused"),
			want: "ollama: backend error: connection refused",
		},
		{
			name: "backend reported",
			err:  newReportedError("claude-cli", 0, "Invalid model name"),
			want: "claude-cli: backend reported error: Invalid model name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateDiagnostic(t *testing.T) {
	long := strings.Repeat("x", maxDiagnosticChars+100)
	got := truncateDiagnostic(long)
	if len([]rune(got)) != maxDiagnosticChars+3 {
		t.Errorf("expected %d runes plus ellipsis, got %d", maxDiagnosticChars, len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated diagnostic must end with ellipsis")
	}

	short := "short message"
	if truncateDiagnostic(short) != short {
		t.Error("short diagnostics must pass through unchanged")
	}
}
