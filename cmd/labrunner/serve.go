package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/giantswarm/labrunner"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	// serverShutdownTimeout bounds how long open HTTP connections get to
	// finish after a signal. The controller's own drain follows.
	serverShutdownTimeout = 30 * time.Second
)

type serveFlags struct {
	config    string
	traceFile string
}

func newServeCommand() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve lab actions over HTTP",
		Long: `Serve POST /lab and GET /healthz.

Configuration is read from --config (YAML or TOML) over built-in defaults.
Flags given on the command line override the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd, flags.config)
			if err != nil {
				return err
			}
			opts, err := cfg.Options()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if flags.traceFile != "" {
				shutdownTracing, err := installTracing(ctx, flags.traceFile)
				if err != nil {
					return err
				}
				defer func() {
					if err := shutdownTracing(context.Background()); err != nil {
						slog.Warn("flushing traces failed", "error", err)
					}
				}()
			}

			return serve(ctx, cfg.Listen, labrunner.NewController(opts...))
		},
	}

	cmd.Flags().StringVar(&flags.config, "config", "", "path to a YAML or TOML config file")
	cmd.Flags().StringVar(&flags.traceFile, "trace-file", "", "write OpenTelemetry spans as JSON to this file")
	addConfigFlags(cmd)
	return cmd
}

// addConfigFlags registers one flag per FileConfig field. Only flags set on
// the command line are applied, so their defaults are informational.
func addConfigFlags(cmd *cobra.Command) {
	def := DefaultFileConfig()
	f := cmd.Flags()
	f.String("listen", def.Listen, "HTTP listen address")
	f.String("cache-root", "", "directory holding template checkouts")
	f.String("index-path", "", "SQLite file indexing the checkouts")
	f.String("kubeconfig", "", "aggregated kubeconfig; each context is a cluster id")
	f.String("entrypoint", def.Entrypoint, "task script file name")
	f.String("interpreter", *def.Interpreter, "program running the task script; empty executes it directly")
	f.Duration("script-timeout", labrunner.DefaultScriptTimeout, "hard deadline for one task script")
	f.String("git-binary", def.GitBinary, "git executable")
	f.Duration("git-timeout", labrunner.DefaultGitTimeout, "deadline for one clone or pull")
	f.Duration("repo-ttl", labrunner.DefaultRepoTTL, "how long a checkout is used before pulling")
	f.Int("max-concurrent-requests", def.MaxConcurrentRequests, "requests running at once")
	f.Int("cluster-cache-size", def.ClusterCacheSize, "cluster clients kept for reuse")
	f.Duration("shutdown-drain-timeout", labrunner.DefaultShutdownDrainTimeout, "wait for in-flight requests on shutdown")
}

// loadServeConfig reads path (if set) over the defaults and applies the
// flags the user set.
func loadServeConfig(cmd *cobra.Command, path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFileConfig(path); err != nil {
			return cfg, err
		}
	}

	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	dur := func(name string, dst *string) {
		if f.Changed(name) {
			d, _ := f.GetDuration(name)
			*dst = d.String()
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}

	str("listen", &cfg.Listen)
	str("cache-root", &cfg.CacheRoot)
	str("index-path", &cfg.IndexPath)
	str("kubeconfig", &cfg.Kubeconfig)
	str("entrypoint", &cfg.Entrypoint)
	if f.Changed("interpreter") {
		v, _ := f.GetString("interpreter")
		cfg.Interpreter = &v
	}
	dur("script-timeout", &cfg.ScriptTimeout)
	str("git-binary", &cfg.GitBinary)
	dur("git-timeout", &cfg.GitTimeout)
	dur("repo-ttl", &cfg.RepoTTL)
	num("max-concurrent-requests", &cfg.MaxConcurrentRequests)
	num("cluster-cache-size", &cfg.ClusterCacheSize)
	dur("shutdown-drain-timeout", &cfg.ShutdownDrainTimeout)
	return cfg, nil
}

// serve initializes ctrl and runs the HTTP server until ctx is done, then
// stops accepting connections and drains the controller.
func serve(ctx context.Context, addr string, ctrl labrunner.Controller) error {
	if err := ctrl.Initialize(ctx); err != nil {
		return errors.Join(fmt.Errorf("initialize: %w", err), ctrl.Shutdown())
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           labrunner.NewHTTPHandler(ctrl),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
		defer cancel()
		// Stop admitting first so requests still queued at the gate fail fast.
		ctrlErr := ctrl.Shutdown()
		return errors.Join(srv.Shutdown(shutdownCtx), ctrlErr)
	})
	return g.Wait()
}
