package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesKind(t *testing.T) {
	errAlreadyLinked := New(ErrConflict, "customer already has an active link")
	wrapped := fmt.Errorf("activate: %w", errAlreadyLinked)

	if !errors.Is(wrapped, errAlreadyLinked) {
		t.Error("wrapped error should match the named error")
	}
	if !errors.Is(wrapped, ErrConflict) {
		t.Error("wrapped error should match its kind")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Error("wrapped error should not match another kind")
	}
	if wrapped.Error() != "activate: customer already has an active link" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"named not found", New(ErrNotFound, "link not found"), ErrNotFound},
		{"wrapped upstream", fmt.Errorf("fetch: %w", ErrUpstreamUnavailable), ErrUpstreamUnavailable},
		{"queue", New(ErrQueueUnavailable, "enqueue failed"), ErrQueueUnavailable},
		{"plain", errors.New("boom"), nil},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}
