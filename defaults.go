package labrunner

import "time"

// Default configuration values for NewController.
const (
	// DefaultBaseDirName is the directory under the system temp directory
	// holding the repository cache and its index when neither WithCacheRoot
	// nor WithIndexPath is given.
	DefaultBaseDirName = "labrunner"

	// DefaultEntrypoint is the task script file name inside each action
	// directory.
	DefaultEntrypoint = "main.py"

	// DefaultInterpreter runs the entrypoint.
	DefaultInterpreter = "python3"

	// DefaultScriptTimeout is the hard deadline for one task script.
	DefaultScriptTimeout = 10 * time.Minute

	// DefaultGitBinary is looked up in PATH.
	DefaultGitBinary = "git"

	// DefaultGitTimeout bounds one clone or pull.
	DefaultGitTimeout = 5 * time.Minute

	// DefaultRepoTTL is how long a checkout is used without pulling.
	DefaultRepoTTL = 24 * time.Hour

	// DefaultMaxConcurrentRequests bounds how many requests run at once.
	DefaultMaxConcurrentRequests = 8

	// DefaultClusterCacheSize bounds the number of cached cluster clients.
	DefaultClusterCacheSize = 64

	// DefaultShutdownDrainTimeout is the maximum time Shutdown waits for
	// in-flight requests.
	DefaultShutdownDrainTimeout = 30 * time.Second
)
