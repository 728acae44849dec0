package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/giantswarm/labrunner/internal/clusterpool"
	"github.com/giantswarm/labrunner/internal/orchestrator"
	"github.com/giantswarm/labrunner/internal/repocache"
)

// ControllerConfig holds configuration for a Controller.
//
// All fields are immutable after NewController. The controller builds its
// components from this value during Initialize and never consults process
// environment or globals afterwards.
type ControllerConfig struct {
	// CacheRoot holds template checkouts, in-progress clones and per-key
	// lock files.
	CacheRoot string

	// IndexPath is the SQLite file mapping cache keys to checkout paths.
	// Several controllers may share it.
	IndexPath string

	// KubeconfigPath is the aggregated kubeconfig. Each context in it is a
	// cluster identifier. Required unless ClusterFactory is set.
	KubeconfigPath string

	// Entrypoint is the script file name inside each action directory.
	Entrypoint string

	// Interpreter runs the entrypoint. Empty executes the entrypoint
	// directly, which then needs an executable bit and a shebang.
	Interpreter string

	// ScriptTimeout is the hard deadline for one task script. The process
	// group is killed when it expires.
	ScriptTimeout time.Duration

	GitBinary  string
	GitTimeout time.Duration

	// RepoTTL is how long a checkout stays fresh in the index.
	RepoTTL time.Duration

	// MaxConcurrentRequests bounds how many requests run the pipeline at
	// once. Excess requests wait for a slot.
	MaxConcurrentRequests int

	// ClusterCacheSize bounds the number of cached cluster clients.
	ClusterCacheSize int

	// ShutdownDrainTimeout is the maximum time Shutdown waits for in-flight
	// requests before closing the index and client pool.
	ShutdownDrainTimeout time.Duration

	// Credentials maps git hosts to tokens injected into clone URLs.
	Credentials repocache.StaticCredentials

	// Registry maps (apiVersion, kind) to creation strategies. Nil uses
	// orchestrator.DefaultRegistry.
	Registry *orchestrator.Registry

	// ClusterFactory builds clients for cluster identifiers. Nil builds
	// them from KubeconfigPath.
	ClusterFactory clusterpool.Factory

	// ScriptRunner executes task scripts. Nil uses a process.Runner.
	ScriptRunner ScriptRunner

	// Repos resolves template checkouts. Nil uses a repocache.Cache over
	// CacheRoot and the index at IndexPath.
	Repos RepoResolver
}

// Validate checks all ControllerConfig invariants and reports every
// violation at once via errors.Join.
func (c ControllerConfig) Validate() error {
	var errs []error

	if c.CacheRoot == "" {
		errs = append(errs, errors.New("cache root must not be empty"))
	}
	if c.IndexPath == "" {
		errs = append(errs, errors.New("index path must not be empty"))
	}
	if c.KubeconfigPath == "" && c.ClusterFactory == nil {
		errs = append(errs, errors.New("kubeconfig path must not be empty"))
	}
	if !isFileName(c.Entrypoint) {
		errs = append(errs, fmt.Errorf("entrypoint must be a plain file name, got %q", c.Entrypoint))
	}
	if c.GitBinary == "" {
		errs = append(errs, errors.New("git binary must not be empty"))
	}
	if c.ScriptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("script timeout must be greater than 0, got %s", c.ScriptTimeout))
	}
	if c.GitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("git timeout must be greater than 0, got %s", c.GitTimeout))
	}
	if c.RepoTTL <= 0 {
		errs = append(errs, fmt.Errorf("repository TTL must be greater than 0, got %s", c.RepoTTL))
	}
	if c.MaxConcurrentRequests <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent requests must be greater than 0, got %d", c.MaxConcurrentRequests))
	}
	if c.ClusterCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cluster cache size must be greater than 0, got %d", c.ClusterCacheSize))
	}
	if c.ShutdownDrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown drain timeout must be greater than 0, got %s", c.ShutdownDrainTimeout))
	}
	for host, cred := range c.Credentials {
		if strings.TrimSpace(host) == "" {
			errs = append(errs, errors.New("credential host must not be empty"))
		}
		if cred.Token == "" {
			errs = append(errs, fmt.Errorf("credential for %s has an empty token", host))
		}
	}

	return errors.Join(errs...)
}

func isFileName(name string) bool {
	return name != "" && name != "." && name != ".." && filepath.Base(name) == name
}
