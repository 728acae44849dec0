package labrunner_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/giantswarm/labrunner"
)

func publicErrors() map[string]error {
	return map[string]error{
		"ErrCacheUnavailable":      labrunner.ErrCacheUnavailable,
		"ErrCloneFailure":          labrunner.ErrCloneFailure,
		"ErrClusterAPI":            labrunner.ErrClusterAPI,
		"ErrConfig":                labrunner.ErrConfig,
		"ErrInvalidReference":      labrunner.ErrInvalidReference,
		"ErrInvalidRequest":        labrunner.ErrInvalidRequest,
		"ErrMalformedOutput":       labrunner.ErrMalformedOutput,
		"ErrNotInitialized":        labrunner.ErrNotInitialized,
		"ErrPathSecurityViolation": labrunner.ErrPathSecurityViolation,
		"ErrResourceConflict":      labrunner.ErrResourceConflict,
		"ErrScriptExecution":       labrunner.ErrScriptExecution,
		"ErrScriptNotFound":        labrunner.ErrScriptNotFound,
		"ErrScriptTimeout":         labrunner.ErrScriptTimeout,
		"ErrShuttingDown":          labrunner.ErrShuttingDown,
	}
}

// TestPublicErrorConstants verifies that every exported error constant has
// a message and matches itself directly and when wrapped.
func TestPublicErrorConstants(t *testing.T) {
	t.Parallel()

	for name, sentinel := range publicErrors() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if sentinel == nil {
				t.Fatalf("%s is nil", name)
			}
			if msg := sentinel.Error(); msg == "" {
				t.Errorf("%s.Error() returned empty string", name)
			}
			if !errors.Is(sentinel, sentinel) {
				t.Errorf("errors.Is(%s, %s) = false, want true (self-match)", name, name)
			}
			wrapped := fmt.Errorf("wrapping: %w", sentinel)
			if !errors.Is(wrapped, sentinel) {
				t.Errorf("errors.Is(wrapped %s) = false, want true", name)
			}
			if errors.Is(sentinel, errors.New("some other error")) {
				t.Errorf("errors.Is(%s, errors.New(...)) = true, want false", name)
			}
		})
	}
}

// TestPublicErrorConstantsAreDistinct verifies that no two exported error
// constants are equal.
func TestPublicErrorConstantsAreDistinct(t *testing.T) {
	t.Parallel()

	all := publicErrors()
	for nameA, a := range all {
		for nameB, b := range all {
			if nameA != nameB && errors.Is(a, b) {
				t.Errorf("errors.Is(%s, %s) = true: constants must be distinct", nameA, nameB)
			}
		}
	}
}
