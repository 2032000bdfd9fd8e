package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	err := State(CodeAlreadyTraded, "listing %s already claimed", "l1")
	wrapped := fmt.Errorf("execute trade: %w", err)

	tests := []struct {
		name   string
		target error
		want   bool
	}{
		{"code prototype", AlreadyTraded, true},
		{"kind prototype", InvalidState, true},
		{"other code same kind", NotActive, false},
		{"other kind", NotFound, false},
		{"plain error", errors.New("x"), false},
	}
	for _, tt := range tests {
		if got := errors.Is(wrapped, tt.target); got != tt.want {
			t.Errorf("%s: errors.Is = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Reading("not verified")); got != KindInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", got)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("expected INTERNAL, got %s", got)
	}
	if got := CodeOf(fmt.Errorf("x: %w", Reading("bad"))); got != CodeInvalidReading {
		t.Errorf("expected INVALID_READING, got %s", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(KindLedgerUnavailable, cause, "mint")
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable")
	}
	if !errors.Is(err, LedgerUnavailable) {
		t.Error("expected LedgerUnavailable kind")
	}
	if !Retryable(err) {
		t.Error("ledger unavailable should be retryable")
	}
	if Retryable(State(CodeExpired, "gone")) {
		t.Error("invalid state should not be retryable")
	}
}
