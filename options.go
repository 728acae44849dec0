package labrunner

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("labrunner: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("labrunner: %s must not be empty", name))
	}
}

// ControllerOption configures a Controller during construction via
// NewController.
//
// Most With* functions panic on invalid input. Option values are usually
// literals or flags already validated by the caller, so an invalid value is
// a programmer error. Configuration that depends on the filesystem is
// checked by Initialize instead.
type ControllerOption func(*controllerConfig)

// WithCacheRoot sets the directory holding template checkouts.
// Panics if dir is empty.
func WithCacheRoot(dir string) ControllerOption {
	requireNonEmpty("cache root", dir)
	return func(c *controllerConfig) {
		c.CacheRoot = dir
	}
}

// WithIndexPath sets the SQLite file mapping cache keys to checkouts.
// Controllers sharing a cache root should share the index too.
// Panics if path is empty.
func WithIndexPath(path string) ControllerOption {
	requireNonEmpty("index path", path)
	return func(c *controllerConfig) {
		c.IndexPath = path
	}
}

// WithKubeconfig sets the aggregated kubeconfig. Each context in it names a
// cluster a request may target. The path is also passed to task scripts.
// Panics if path is empty.
func WithKubeconfig(path string) ControllerOption {
	requireNonEmpty("kubeconfig path", path)
	return func(c *controllerConfig) {
		c.KubeconfigPath = path
	}
}

// WithEntrypoint sets the task script file name.
//
// Default: "main.py".
//
// Panics if name is empty or contains a path separator.
func WithEntrypoint(name string) ControllerOption {
	requireNonEmpty("entrypoint", name)
	if filepath.Base(name) != name || name == "." || name == ".." {
		panic(fmt.Sprintf("labrunner: entrypoint must be a plain file name, got %q", name))
	}
	return func(c *controllerConfig) {
		c.Entrypoint = name
	}
}

// WithInterpreter sets the program the entrypoint is passed to. An empty
// interpreter executes the entrypoint directly.
//
// Default: "python3".
func WithInterpreter(bin string) ControllerOption {
	return func(c *controllerConfig) {
		c.Interpreter = bin
	}
}

// WithScriptTimeout sets the hard deadline for one task script. The
// script's process group is killed when it expires.
//
// Default: 10 minutes.
//
// Panics if d <= 0.
func WithScriptTimeout(d time.Duration) ControllerOption {
	requirePositive("script timeout", d)
	return func(c *controllerConfig) {
		c.ScriptTimeout = d
	}
}

// WithGitBinary sets the git executable.
// Panics if binPath is empty.
func WithGitBinary(binPath string) ControllerOption {
	requireNonEmpty("git binary path", binPath)
	return func(c *controllerConfig) {
		c.GitBinary = binPath
	}
}

// WithGitTimeout bounds one clone or pull.
//
// Default: 5 minutes.
//
// Panics if d <= 0.
func WithGitTimeout(d time.Duration) ControllerOption {
	requirePositive("git timeout", d)
	return func(c *controllerConfig) {
		c.GitTimeout = d
	}
}

// WithRepoTTL sets how long a checkout is used before it is pulled again.
//
// Default: 24 hours.
//
// Panics if d <= 0.
func WithRepoTTL(d time.Duration) ControllerOption {
	requirePositive("repository TTL", d)
	return func(c *controllerConfig) {
		c.RepoTTL = d
	}
}

// WithMaxConcurrentRequests bounds how many requests run their pipeline at
// once. Further requests wait for a slot until their context is done.
//
// Default: 8.
//
// Panics if n <= 0.
func WithMaxConcurrentRequests(n int) ControllerOption {
	requirePositive("max concurrent requests", n)
	return func(c *controllerConfig) {
		c.MaxConcurrentRequests = n
	}
}

// WithClusterCacheSize bounds the number of cluster clients kept for reuse.
//
// Default: 64.
//
// Panics if n <= 0.
func WithClusterCacheSize(n int) ControllerOption {
	requirePositive("cluster cache size", n)
	return func(c *controllerConfig) {
		c.ClusterCacheSize = n
	}
}

// WithShutdownDrainTimeout sets the maximum time Shutdown waits for
// in-flight requests before closing the index and cluster clients.
//
// Default: 30 seconds.
//
// Panics if d <= 0.
func WithShutdownDrainTimeout(d time.Duration) ControllerOption {
	requirePositive("shutdown drain timeout", d)
	return func(c *controllerConfig) {
		c.ShutdownDrainTimeout = d
	}
}

// WithGitCredential authenticates https clones from host with token. An
// empty username uses "oauth2". Hosts match case-insensitively, without
// port. Repeating the option for a host replaces the earlier credential.
//
// Panics if host or token is empty.
func WithGitCredential(host, username, token string) ControllerOption {
	requireNonEmpty("credential host", host)
	requireNonEmpty("credential token", token)
	return func(c *controllerConfig) {
		if c.Credentials == nil {
			c.Credentials = make(map[string]Credential)
		}
		c.Credentials[strings.ToLower(host)] = Credential{Username: username, Token: token}
	}
}

// WithStrategy registers s as the creation strategy for apiVersion and
// kind, replacing a built-in strategy for the same pair. Pass
// AllowExisting to accept objects that already exist.
//
// Panics if apiVersion or kind is empty or s is nil.
func WithStrategy(apiVersion, kind string, s Strategy, opts ...RegisterOption) ControllerOption {
	requireNonEmpty("strategy apiVersion", apiVersion)
	requireNonEmpty("strategy kind", kind)
	if s == nil {
		panic(fmt.Sprintf("labrunner: strategy for %s %s must not be nil", apiVersion, kind))
	}
	return func(c *controllerConfig) {
		c.strategies = append(c.strategies, strategyEntry{
			apiVersion: apiVersion,
			kind:       kind,
			strategy:   s,
			opts:       opts,
		})
	}
}

// WithClusterFactory replaces the kubeconfig-based client construction.
// The kubeconfig path is then optional and only passed to task scripts.
//
// Panics if f is nil.
func WithClusterFactory(f ClusterFactory) ControllerOption {
	if f == nil {
		panic("labrunner: cluster factory must not be nil")
	}
	return func(c *controllerConfig) {
		c.ClusterFactory = f
	}
}
