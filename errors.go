package labrunner

import "github.com/giantswarm/labrunner/internal/core"

// Sentinel errors for error inspection with errors.Is. Handle reports
// failures in its Response; these are returned by Initialize and found in
// the chains logged for failed requests.
const (
	// ErrShuttingDown is reported once Shutdown has started.
	ErrShuttingDown = core.ErrShuttingDown

	// ErrNotInitialized is reported when Initialize has not succeeded.
	ErrNotInitialized = core.ErrNotInitialized

	// ErrConfig is returned by Initialize for invalid configuration.
	ErrConfig = core.ErrConfig

	// ErrInvalidRequest marks a request with missing or malformed fields.
	ErrInvalidRequest = core.ErrInvalidRequest

	// ErrInvalidReference marks an unusable repository URL or revision.
	ErrInvalidReference = core.ErrInvalidReference

	// ErrCloneFailure marks a clone or pull that did not succeed.
	ErrCloneFailure = core.ErrCloneFailure

	// ErrCacheUnavailable marks an unreadable repository cache or index.
	ErrCacheUnavailable = core.ErrCacheUnavailable

	// ErrPathSecurityViolation marks a script path leaving its checkout.
	ErrPathSecurityViolation = core.ErrPathSecurityViolation

	// ErrScriptNotFound marks a missing task script.
	ErrScriptNotFound = core.ErrScriptNotFound

	// ErrScriptExecution marks a task script exiting with nonzero status.
	ErrScriptExecution = core.ErrScriptExecution

	// ErrScriptTimeout marks a task script killed at its deadline.
	ErrScriptTimeout = core.ErrScriptTimeout

	// ErrMalformedOutput marks script output that is not a JSON array of
	// Kubernetes objects.
	ErrMalformedOutput = core.ErrMalformedOutput

	// ErrResourceConflict marks an object that already existed for a kind
	// that does not allow it.
	ErrResourceConflict = core.ErrResourceConflict

	// ErrClusterAPI marks a failed request to the target cluster.
	ErrClusterAPI = core.ErrClusterAPI
)
