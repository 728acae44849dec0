package orchestrator

import "github.com/giantswarm/labrunner/internal/sentinel"

// ErrMalformedOutput is returned when script output is not a JSON array of
// resource definitions, or a definition cannot be converted to its type.
const ErrMalformedOutput = sentinel.Error("malformed resource output")

// ErrResourceConflict is returned when the cluster already has an object
// with the rewritten name and its registration does not allow that.
const ErrResourceConflict = sentinel.Error("resource already exists")

// ErrClusterAPI is returned for any other failed creation.
const ErrClusterAPI = sentinel.Error("cluster API request failed")

// ErrDuplicateStrategy is returned when a (apiVersion, kind) pair is
// registered twice.
const ErrDuplicateStrategy = sentinel.Error("strategy already registered")
