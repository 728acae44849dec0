package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/giantswarm/labrunner"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk configuration of the serve command. Durations
// are Go duration strings such as "90s" or "10m".
type FileConfig struct {
	Listen                string                `yaml:"listen" toml:"listen"`
	CacheRoot             string                `yaml:"cache_root" toml:"cache_root"`
	IndexPath             string                `yaml:"index_path" toml:"index_path"`
	Kubeconfig            string                `yaml:"kubeconfig" toml:"kubeconfig"`
	Entrypoint            string                `yaml:"entrypoint" toml:"entrypoint"`
	Interpreter           *string               `yaml:"interpreter" toml:"interpreter"`
	ScriptTimeout         string                `yaml:"script_timeout" toml:"script_timeout"`
	GitBinary             string                `yaml:"git_binary" toml:"git_binary"`
	GitTimeout            string                `yaml:"git_timeout" toml:"git_timeout"`
	RepoTTL               string                `yaml:"repo_ttl" toml:"repo_ttl"`
	MaxConcurrentRequests int                   `yaml:"max_concurrent_requests" toml:"max_concurrent_requests"`
	ClusterCacheSize      int                   `yaml:"cluster_cache_size" toml:"cluster_cache_size"`
	ShutdownDrainTimeout  string                `yaml:"shutdown_drain_timeout" toml:"shutdown_drain_timeout"`
	Credentials           map[string]Credential `yaml:"credentials" toml:"credentials"`
}

// Credential is a git host credential. TokenEnv names an environment
// variable holding the token so the file itself can stay secret-free.
type Credential struct {
	Username string `yaml:"username" toml:"username"`
	Token    string `yaml:"token" toml:"token"`
	TokenEnv string `yaml:"token_env" toml:"token_env"`
}

const defaultListen = ":8080"

// DefaultFileConfig returns a FileConfig with default values. Cache and
// index paths are left empty so the library defaults apply.
func DefaultFileConfig() FileConfig {
	interpreter := labrunner.DefaultInterpreter
	return FileConfig{
		Listen:                defaultListen,
		Entrypoint:            labrunner.DefaultEntrypoint,
		Interpreter:           &interpreter,
		ScriptTimeout:         labrunner.DefaultScriptTimeout.String(),
		GitBinary:             labrunner.DefaultGitBinary,
		GitTimeout:            labrunner.DefaultGitTimeout.String(),
		RepoTTL:               labrunner.DefaultRepoTTL.String(),
		MaxConcurrentRequests: labrunner.DefaultMaxConcurrentRequests,
		ClusterCacheSize:      labrunner.DefaultClusterCacheSize,
		ShutdownDrainTimeout:  labrunner.DefaultShutdownDrainTimeout.String(),
	}
}

// LoadFileConfig reads a YAML (.yaml, .yml) or TOML (.toml) file over
// DefaultFileConfig. Unknown keys are rejected.
func LoadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("parsing config %s: unknown keys %v", path, undecoded)
		}
	default:
		return cfg, fmt.Errorf("config %s: unsupported extension %q, want .yaml, .yml or .toml", path, ext)
	}

	return cfg, nil
}

// durations holds the parsed duration fields of a FileConfig.
type durations struct {
	script, git, ttl, drain time.Duration
}

func (c FileConfig) durations() (durations, []error) {
	var (
		d    durations
		errs []error
	)
	parse := func(name, s string, dst *time.Duration) {
		v, err := time.ParseDuration(s)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		case v <= 0:
			errs = append(errs, fmt.Errorf("%s must be greater than 0, got %s", name, v))
		default:
			*dst = v
		}
	}
	parse("script_timeout", c.ScriptTimeout, &d.script)
	parse("git_timeout", c.GitTimeout, &d.git)
	parse("repo_ttl", c.RepoTTL, &d.ttl)
	parse("shutdown_drain_timeout", c.ShutdownDrainTimeout, &d.drain)
	return d, errs
}

// Validate reports every invalid field at once. A FileConfig that passes
// Validate converts to options without panicking.
func (c FileConfig) Validate() error {
	_, errs := c.durations()

	if c.Listen == "" {
		errs = append(errs, errors.New("listen must not be empty"))
	}
	if c.Kubeconfig == "" {
		errs = append(errs, errors.New("kubeconfig must not be empty"))
	}
	if c.Entrypoint == "" || filepath.Base(c.Entrypoint) != c.Entrypoint || c.Entrypoint == ".." || c.Entrypoint == "." {
		errs = append(errs, fmt.Errorf("entrypoint must be a plain file name, got %q", c.Entrypoint))
	}
	if c.GitBinary == "" {
		errs = append(errs, errors.New("git_binary must not be empty"))
	}
	if c.MaxConcurrentRequests <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_requests must be greater than 0, got %d", c.MaxConcurrentRequests))
	}
	if c.ClusterCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cluster_cache_size must be greater than 0, got %d", c.ClusterCacheSize))
	}
	for host, cred := range c.Credentials {
		if host == "" {
			errs = append(errs, errors.New("credentials: host must not be empty"))
		}
		if cred.Token != "" && cred.TokenEnv != "" {
			errs = append(errs, fmt.Errorf("credentials %s: set token or token_env, not both", host))
		}
		if cred.token() == "" {
			errs = append(errs, fmt.Errorf("credentials %s: empty token", host))
		}
	}

	return errors.Join(errs...)
}

func (c Credential) token() string {
	if c.TokenEnv != "" {
		return os.Getenv(c.TokenEnv)
	}
	return c.Token
}

// Options converts a validated FileConfig into controller options.
func (c FileConfig) Options() ([]labrunner.ControllerOption, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	d, _ := c.durations()

	opts := []labrunner.ControllerOption{
		labrunner.WithKubeconfig(c.Kubeconfig),
		labrunner.WithEntrypoint(c.Entrypoint),
		labrunner.WithScriptTimeout(d.script),
		labrunner.WithGitBinary(c.GitBinary),
		labrunner.WithGitTimeout(d.git),
		labrunner.WithRepoTTL(d.ttl),
		labrunner.WithMaxConcurrentRequests(c.MaxConcurrentRequests),
		labrunner.WithClusterCacheSize(c.ClusterCacheSize),
		labrunner.WithShutdownDrainTimeout(d.drain),
	}
	if c.CacheRoot != "" {
		opts = append(opts, labrunner.WithCacheRoot(c.CacheRoot))
	}
	if c.IndexPath != "" {
		opts = append(opts, labrunner.WithIndexPath(c.IndexPath))
	}
	if c.Interpreter != nil {
		opts = append(opts, labrunner.WithInterpreter(*c.Interpreter))
	}
	for host, cred := range c.Credentials {
		opts = append(opts, labrunner.WithGitCredential(host, cred.Username, cred.token()))
	}
	return opts, nil
}
