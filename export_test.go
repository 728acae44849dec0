package labrunner

import "time"

// ConfigSnapshot holds a copy of controllerConfig fields for test
// assertions.
type ConfigSnapshot struct {
	CacheRoot             string
	IndexPath             string
	KubeconfigPath        string
	Entrypoint            string
	Interpreter           string
	ScriptTimeout         time.Duration
	GitBinary             string
	GitTimeout            time.Duration
	RepoTTL               time.Duration
	MaxConcurrentRequests int
	ClusterCacheSize      int
	ShutdownDrainTimeout  time.Duration
	Credentials           map[string]Credential
	HasClusterFactory     bool
	RegisteredKinds       int
}

// ApplyOptionsForTesting creates a default controllerConfig, applies opts
// and returns a ConfigSnapshot of the resulting core configuration.
func ApplyOptionsForTesting(opts ...ControllerOption) ConfigSnapshot {
	cfg := defaultControllerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cc := cfg.toCoreConfig()

	snap := ConfigSnapshot{
		CacheRoot:             cc.CacheRoot,
		IndexPath:             cc.IndexPath,
		KubeconfigPath:        cc.KubeconfigPath,
		Entrypoint:            cc.Entrypoint,
		Interpreter:           cc.Interpreter,
		ScriptTimeout:         cc.ScriptTimeout,
		GitBinary:             cc.GitBinary,
		GitTimeout:            cc.GitTimeout,
		RepoTTL:               cc.RepoTTL,
		MaxConcurrentRequests: cc.MaxConcurrentRequests,
		ClusterCacheSize:      cc.ClusterCacheSize,
		ShutdownDrainTimeout:  cc.ShutdownDrainTimeout,
		Credentials:           cc.Credentials,
		HasClusterFactory:     cc.ClusterFactory != nil,
	}
	if cc.Registry != nil {
		snap.RegisteredKinds = cc.Registry.Len()
	}
	return snap
}
