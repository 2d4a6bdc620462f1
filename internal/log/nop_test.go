package log

import (
	"context"
	"errors"
	"testing"
)

func TestNop_AllMethodsSafe(t *testing.T) {
	l := Nop()
	ctx := context.Background()
	l.Debug(ctx, "d", "k", 1)
	l.Info(ctx, "i")
	l.Warn(ctx, "w", "odd")
	l.Error(ctx, errors.New("order rejected"), "e")
	l.Error(ctx, nil, "nil err")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestNop_WithReturnsNop(t *testing.T) {
	if _, ok := Nop().With("a", 1).With("b").(nopLogger); !ok {
		t.Fatal("With on nop should stay nop")
	}
}
