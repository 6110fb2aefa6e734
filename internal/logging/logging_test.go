package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_DefaultLevel(t *testing.T) {
	logger := New("", "text")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug to be disabled at default level")
	}
}

func TestNew_DebugLevel(t *testing.T) {
	logger := New("debug", "text")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug level to be enabled")
	}
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "json")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level to be disabled at error level")
	}
}

func TestWithRequestID_And_RequestID(t *testing.T) {
	ctx := context.Background()

	if id := RequestID(ctx); id != "" {
		t.Errorf("Expected empty request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("Expected req-123, got %q", id)
	}
}

func TestWithIdentity_Abbreviates(t *testing.T) {
	ctx := context.Background()

	if id := Identity(ctx); id != "" {
		t.Errorf("Expected empty identity, got %q", id)
	}

	long := "0x04a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3"
	ctx = WithIdentity(ctx, long)
	got := Identity(ctx)
	if got == long {
		t.Error("Expected long identity to be abbreviated in context")
	}
	if got[:10] != long[:10] {
		t.Errorf("Expected abbreviation to keep prefix, got %q", got)
	}

	// Short values pass through untouched.
	ctx = WithIdentity(context.Background(), "agent-1")
	if id := Identity(ctx); id != "agent-1" {
		t.Errorf("Expected short identity unchanged, got %q", id)
	}
}

func TestWithLogger_And_FromContext(t *testing.T) {
	ctx := context.Background()

	if logger := FromContext(ctx); logger == nil {
		t.Fatal("Expected default logger")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)

	if FromContext(ctx) != custom {
		t.Error("Expected custom logger from context")
	}
}

func TestL_AttachesContextFields(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithIdentity(ctx, "0x04deadbeef")
	ctx = WithLogger(ctx, New("info", "text"))

	if logger := L(ctx); logger == nil {
		t.Fatal("Expected non-nil logger from L()")
	}
}

func TestRequestID_OverwritesPrevious(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "first")
	ctx = WithRequestID(ctx, "second")

	if id := RequestID(ctx); id != "second" {
		t.Errorf("Expected 'second', got %q", id)
	}
}
