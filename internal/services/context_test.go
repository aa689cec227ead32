package services_test

import (
	"context"
	"testing"

	"linesync/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithLocalID(ctx, "rec-1")
	ctx = services.WithLineID(ctx, "line-9")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.LocalIDFromContext(ctx); !ok || id != "rec-1" {
		t.Fatalf("unexpected local id: %v %v", id, ok)
	}
	if line, ok := services.LineIDFromContext(ctx); !ok || line != "line-9" {
		t.Fatalf("unexpected line id: %v %v", line, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := services.WithLineID(context.Background(), "")
	if _, ok := services.LineIDFromContext(ctx); ok {
		t.Fatal("expected no line value")
	}
}
