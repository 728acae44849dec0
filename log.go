package labrunner

import (
	"log/slog"

	"github.com/giantswarm/labrunner/internal/core"
)

// SetLogger replaces the package-level logger used by labrunner. The
// provided logger should already carry any desired attributes.
//
// If l is nil, the logger resets to slog.Default() with a "component"
// attribute. Call SetLogger(nil) after slog.SetDefault() to pick up
// changes.
//
// SetLogger is safe to call concurrently with other labrunner operations,
// though a concurrent call may briefly observe the previous logger.
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
