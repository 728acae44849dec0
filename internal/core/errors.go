package core

import (
	"github.com/giantswarm/labrunner/internal/orchestrator"
	"github.com/giantswarm/labrunner/internal/repocache"
	"github.com/giantswarm/labrunner/internal/scriptpath"
	"github.com/giantswarm/labrunner/internal/sentinel"
)

// ErrShuttingDown is returned once Shutdown has been called.
const ErrShuttingDown = sentinel.Error("controller is shutting down")

// ErrNotInitialized is returned by Handle before Initialize succeeded.
const ErrNotInitialized = sentinel.Error("controller not initialized")

// ErrConfig wraps every configuration problem found by Initialize.
const ErrConfig = sentinel.Error("invalid controller configuration")

// ErrInvalidRequest is returned for requests with missing or malformed
// fields.
const ErrInvalidRequest = sentinel.Error("invalid request")

// ErrScriptExecution is returned when the task script exits nonzero. The
// chain also carries the *process.ExitError.
const ErrScriptExecution = sentinel.Error("task script failed")

// ErrScriptTimeout is returned when the task script was killed at its
// deadline.
const ErrScriptTimeout = sentinel.Error("task script timed out")

// Re-exported so the public package depends on core only.
const (
	ErrCacheUnavailable      = repocache.ErrCacheUnavailable
	ErrCloneFailure          = repocache.ErrCloneFailure
	ErrInvalidReference      = repocache.ErrInvalidReference
	ErrPathSecurityViolation = scriptpath.ErrPathSecurityViolation
	ErrScriptNotFound        = scriptpath.ErrScriptNotFound
	ErrMalformedOutput       = orchestrator.ErrMalformedOutput
	ErrResourceConflict      = orchestrator.ErrResourceConflict
	ErrClusterAPI            = orchestrator.ErrClusterAPI
)
