package bobdata

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{"bare kind", New(KindKeyNotFound, ""), "KeyNotFound"},
		{"kind with detail", New(KindInvalidConfig, "missing nodes"), "InvalidConfig: missing nodes"},
		{"wrapped cause", Wrap(KindStorageError, "append log", fmt.Errorf("disk full")), "StorageError: append log: disk full"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.err.Error(); got != c.want {
				t.Errorf("Error() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	err := fmt.Errorf("context: %w", ErrKeyNotFound)
	if !Is(err, KindKeyNotFound) {
		t.Errorf("Is(err, KindKeyNotFound) = false, want true")
	}
	if Is(err, KindTimeout) {
		t.Errorf("Is(err, KindTimeout) = true, want false")
	}
}

func TestErrorsAsUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Wrap(KindUnreachable, "dial", fmt.Errorf("connection refused")))

	var be *Error
	if !errors.As(wrapped, &be) {
		t.Fatalf("errors.As failed to find *Error in chain")
	}
	if be.Kind != KindUnreachable {
		t.Errorf("Kind = %v, want %v", be.Kind, KindUnreachable)
	}
}
