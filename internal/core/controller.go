package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/labrunner/internal/clusterpool"
	"github.com/giantswarm/labrunner/internal/fileutil"
	"github.com/giantswarm/labrunner/internal/kvindex"
	"github.com/giantswarm/labrunner/internal/orchestrator"
	"github.com/giantswarm/labrunner/internal/process"
	"github.com/giantswarm/labrunner/internal/repocache"
	"github.com/giantswarm/labrunner/internal/scriptpath"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/client-go/kubernetes"
)

// tracerName is the instrumentation scope of every controller span.
const tracerName = "labrunner"

// controllerState represents the lifecycle state of a Controller.
type controllerState uint32

const (
	controllerCreated      controllerState = iota // Zero value; NewController returns in this state
	controllerInitializing                        // Initialize in progress
	controllerReady                               // Handle allowed
	controllerShuttingDown                        // Shutdown called
)

// ScriptRunner executes task scripts.
type ScriptRunner interface {
	Run(ctx context.Context, c process.Command) (process.Result, error)
}

// RepoResolver maps a template reference to a local checkout. The checkout
// must stay intact until release is called.
type RepoResolver interface {
	Resolve(ctx context.Context, source, revision string) (dir string, release func(), err error)
}

// clientSource hands out cluster clients by identifier.
type clientSource interface {
	Get(ctx context.Context, clusterID string) (kubernetes.Interface, error)
	Close()
}

// Controller executes lab actions. It is safe for concurrent use by
// multiple goroutines.
//
// Lifecycle: NewController → Initialize → Handle (repeatable, concurrent)
// → Shutdown.
//
// Synchronization strategy:
//   - state is an atomic controllerState (created → initializing → ready →
//     shuttingDown). Handle reads it with a single atomic load.
//   - the component fields are written by Initialize under initMu before
//     state becomes ready, and only read by requests admitted afterwards.
//   - inflight counts requests between enter and leave. Shutdown sets
//     controllerShuttingDown then waits on inflightDone for inflight to
//     reach zero, bounded by ShutdownDrainTimeout.
type Controller struct {
	cfg    ControllerConfig
	tracer trace.Tracer

	index   *kvindex.Store
	repos   RepoResolver
	scripts *scriptpath.Resolver
	runner  ScriptRunner
	clients clientSource
	orch    *orchestrator.Orchestrator
	gate    *Gate

	state atomic.Uint32 // controllerState

	inflight         atomic.Int64
	inflightDone     chan struct{}
	inflightDoneOnce sync.Once

	// initMu serializes Initialize and Shutdown's teardown.
	initMu sync.Mutex
}

func (c *Controller) loadState() controllerState {
	return controllerState(c.state.Load())
}

func (c *Controller) storeState(s controllerState) {
	c.state.Store(uint32(s))
}

// NewController returns a Controller for cfg. It performs no I/O and does
// not validate cfg; Initialize does both so configuration problems surface
// as ErrConfig rather than a panic.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		cfg:          cfg,
		tracer:       otel.Tracer(tracerName),
		inflightDone: make(chan struct{}),
	}
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() ControllerConfig {
	return c.cfg
}

// Initialize validates the configuration, prepares the cache root, opens
// and pings the shared index and builds the request pipeline. Safe to call
// multiple times: after a success it returns nil; after a failure the next
// call retries from scratch.
func (c *Controller) Initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	switch c.loadState() {
	case controllerReady:
		return nil
	case controllerShuttingDown:
		return ErrShuttingDown
	case controllerCreated, controllerInitializing:
	}

	c.storeState(controllerInitializing)

	if err := c.cfg.Validate(); err != nil {
		c.state.CompareAndSwap(uint32(controllerInitializing), uint32(controllerCreated))
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if err := c.doInitialize(ctx); err != nil {
		if closeErr := c.teardown(); closeErr != nil {
			Logger().Warn("failed to close index during rollback", "error", closeErr)
		}
		c.state.CompareAndSwap(uint32(controllerInitializing), uint32(controllerCreated))
		return fmt.Errorf("initialize: %w", err)
	}

	// Shutdown may have started while we were initializing; it wins.
	if !c.state.CompareAndSwap(uint32(controllerInitializing), uint32(controllerReady)) {
		return ErrShuttingDown
	}
	Logger().Info("controller initialized",
		"cache_root", c.cfg.CacheRoot,
		"index", c.cfg.IndexPath,
		"max_concurrent_requests", c.cfg.MaxConcurrentRequests)
	return nil
}

func (c *Controller) doInitialize(ctx context.Context) error {
	if err := fileutil.EnsureDir(c.cfg.CacheRoot); err != nil {
		return fmt.Errorf("init cache root: %w", err)
	}
	if err := fileutil.EnsureDirForFile(c.cfg.IndexPath); err != nil {
		return fmt.Errorf("init index dir: %w", err)
	}

	index, err := kvindex.Open(ctx, kvindex.Config{Path: c.cfg.IndexPath, Logger: Logger()})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	c.index = index
	if err := index.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	c.repos = c.cfg.Repos
	if c.repos == nil {
		c.repos = repocache.New(repocache.Config{
			Root:        c.cfg.CacheRoot,
			Index:       index,
			GitBinary:   c.cfg.GitBinary,
			GitTimeout:  c.cfg.GitTimeout,
			TTL:         c.cfg.RepoTTL,
			Credentials: c.cfg.Credentials,
			Logger:      Logger(),
		})
	}

	c.runner = c.cfg.ScriptRunner
	if c.runner == nil {
		c.runner = process.NewRunner(process.Config{
			DefaultTimeout: c.cfg.ScriptTimeout,
			Logger:         Logger(),
		})
	}

	factory := c.cfg.ClusterFactory
	if factory == nil {
		factory = clusterpool.KubeconfigFactory(c.cfg.KubeconfigPath)
	}
	c.clients = clusterpool.New(clusterpool.Config{
		Size:    c.cfg.ClusterCacheSize,
		Factory: factory,
		Logger:  Logger(),
	})

	c.scripts = scriptpath.New(c.cfg.Entrypoint)
	c.orch = orchestrator.New(orchestrator.Config{Registry: c.cfg.Registry, Logger: Logger()})
	c.gate = NewGate(c.cfg.MaxConcurrentRequests)
	return nil
}

// teardown closes whatever Initialize opened. Callers hold initMu. The
// fields stay set: requests that outlived the drain window may still read
// them and get closed-component errors.
func (c *Controller) teardown() error {
	if c.gate != nil {
		c.gate.Close()
	}
	if c.clients != nil {
		c.clients.Close()
	}
	if c.index != nil {
		return c.index.Close()
	}
	return nil
}

// Ping reports whether the controller is ready and its index reachable.
func (c *Controller) Ping(ctx context.Context) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	if err := c.index.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// enter admits a request into the in-flight set. The increment happens
// before the state check so Shutdown either sees the request or the request
// sees Shutdown.
func (c *Controller) enter() error {
	c.inflight.Add(1)
	switch c.loadState() {
	case controllerReady:
		return nil
	case controllerShuttingDown:
		c.leave()
		return ErrShuttingDown
	case controllerCreated, controllerInitializing:
	}
	c.leave()
	return ErrNotInitialized
}

// leave removes a request from the in-flight set and wakes Shutdown when it
// was the last one.
func (c *Controller) leave() {
	if c.inflight.Add(-1) == 0 && c.loadState() == controllerShuttingDown {
		c.inflightDoneOnce.Do(func() { close(c.inflightDone) })
	}
}

// Shutdown rejects new requests, waits up to ShutdownDrainTimeout for
// in-flight ones and then closes the client pool and the index. Requests
// still running after the drain window keep running but may fail on the
// closed index. Safe to call before Initialize and more than once.
func (c *Controller) Shutdown() error {
	c.storeState(controllerShuttingDown)

	c.initMu.Lock()
	defer c.initMu.Unlock()

	// Unblock requests waiting for admission; they leave with ErrShuttingDown.
	if c.gate != nil {
		c.gate.Close()
	}

	if c.inflight.Load() == 0 {
		c.inflightDoneOnce.Do(func() { close(c.inflightDone) })
	}
	drainTimeout := c.cfg.ShutdownDrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = time.Second
	}
	drainTimer := time.NewTimer(drainTimeout)
	select {
	case <-c.inflightDone:
		drainTimer.Stop()
	case <-drainTimer.C:
		Logger().Warn("shutdown: timed out waiting for in-flight requests to drain; proceeding",
			slog.Int64("inflight", c.inflight.Load()),
			slog.Duration("timeout", drainTimeout))
	}

	if err := c.teardown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
