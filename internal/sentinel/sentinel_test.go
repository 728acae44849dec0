package sentinel

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorText(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err  Error
		want string
	}{
		"plain":       {err: Error("clone failed"), want: "clone failed"},
		"empty":       {err: Error(""), want: ""},
		"punctuation": {err: Error("path: escapes root"), want: "path: escapes root"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestErrorMatchesThroughWrapping(t *testing.T) {
	t.Parallel()

	const errA = Error("a failed")
	const errB = Error("b failed")

	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", errA))
	if !errors.Is(wrapped, errA) {
		t.Error("errors.Is should find errA through two levels of wrapping")
	}
	if errors.Is(wrapped, errB) {
		t.Error("errors.Is should not match a different sentinel")
	}
	if errors.Is(errA, errors.New("a failed")) {
		t.Error("a sentinel must not match an errors.New value with the same text")
	}
}
