package labrunner

import "context"

// Controller runs lab actions against the clusters of an aggregated
// kubeconfig.
//
// Callers must follow this lifecycle ordering:
//
//	NewController → Initialize → Handle (concurrent, repeatable) → Shutdown
//
// Shutdown is safe to call at any point, including before Initialize.
type Controller interface {
	// Initialize validates the configuration, creates the cache directory
	// and opens the repository index. Safe to call multiple times: after a
	// successful initialization, subsequent calls return nil. A failed
	// initialization can be retried.
	//
	// Returns an error wrapping ErrConfig for invalid configuration and
	// ErrCacheUnavailable when the index cannot be opened.
	Initialize(ctx context.Context) error

	// Handle runs one lab action and never returns an error: every failure
	// is reported in the Response with a result, a message and an HTTP
	// status code. Handle is safe for concurrent use; at most the
	// configured number of requests run their pipeline at once.
	Handle(ctx context.Context, req Request) Response

	// Ping reports whether the controller is ready and its index
	// reachable.
	Ping(ctx context.Context) error

	// Shutdown stops admitting requests, waits for in-flight requests up to
	// the drain timeout and releases the index and cluster clients.
	Shutdown() error
}
