package labrunner

import (
	"os"
	"path/filepath"

	"github.com/giantswarm/labrunner/internal/core"
)

// controllerConfig wraps core.ControllerConfig and keeps the strategies
// registered through WithStrategy until the registry is built.
type controllerConfig struct {
	core.ControllerConfig
	strategies []strategyEntry
}

type strategyEntry struct {
	apiVersion string
	kind       string
	strategy   Strategy
	opts       []RegisterOption
}

// defaultControllerConfig returns a controllerConfig populated with all
// default values.
func defaultControllerConfig() controllerConfig {
	base := filepath.Join(os.TempDir(), DefaultBaseDirName)
	return controllerConfig{ControllerConfig: core.ControllerConfig{
		CacheRoot:             filepath.Join(base, "repos"),
		IndexPath:             filepath.Join(base, "index.db"),
		Entrypoint:            DefaultEntrypoint,
		Interpreter:           DefaultInterpreter,
		ScriptTimeout:         DefaultScriptTimeout,
		GitBinary:             DefaultGitBinary,
		GitTimeout:            DefaultGitTimeout,
		RepoTTL:               DefaultRepoTTL,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		ClusterCacheSize:      DefaultClusterCacheSize,
		ShutdownDrainTimeout:  DefaultShutdownDrainTimeout,
	}}
}

// toCoreConfig returns the embedded core.ControllerConfig with a registry
// holding the built-in strategies and every WithStrategy registration.
func (c controllerConfig) toCoreConfig() core.ControllerConfig {
	cfg := c.ControllerConfig
	if len(c.strategies) > 0 {
		cfg.Registry = core.DefaultRegistry()
		for _, s := range c.strategies {
			if err := cfg.Registry.Set(s.apiVersion, s.kind, s.strategy, s.opts...); err != nil {
				// Arguments were checked by WithStrategy.
				panic("labrunner: " + err.Error())
			}
		}
	}
	return cfg
}
