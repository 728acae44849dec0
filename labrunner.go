package labrunner

import (
	"context"
	"net/http"

	"github.com/giantswarm/labrunner/internal/core"
)

var _ Controller = (*controllerWrapper)(nil)

// controllerWrapper wraps core.Controller to implement the Controller
// interface. The core.Controller is a named field rather than embedded so
// callers cannot reach its internal methods through type assertions.
type controllerWrapper struct {
	ctrl *core.Controller
}

// Initialize wraps core.Controller.Initialize.
func (w *controllerWrapper) Initialize(ctx context.Context) error {
	return w.ctrl.Initialize(ctx)
}

// Handle wraps core.Controller.Handle.
func (w *controllerWrapper) Handle(ctx context.Context, req Request) Response {
	return w.ctrl.Handle(ctx, req)
}

// Ping wraps core.Controller.Ping.
func (w *controllerWrapper) Ping(ctx context.Context) error {
	return w.ctrl.Ping(ctx)
}

// Shutdown wraps core.Controller.Shutdown.
func (w *controllerWrapper) Shutdown() error {
	return w.ctrl.Shutdown()
}

// NewController returns a Controller configured by opts. It performs no
// I/O; call Initialize before Handle.
//
// Panics if any option receives an invalid value. See individual With*
// functions for constraints.
//
//nolint:ireturn // Callers depend on the Controller interface.
func NewController(opts ...ControllerOption) Controller {
	cfg := defaultControllerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &controllerWrapper{ctrl: core.NewController(cfg.toCoreConfig())}
}

// NewHTTPHandler exposes c over HTTP:
//
//	POST /lab      JSON Request in, JSON Response out, status from the Response
//	               (POST /lab/ is accepted too)
//	GET  /healthz  200 while c is ready, 503 otherwise
//
// The X-Request-ID header is propagated to logs and echoed back.
func NewHTTPHandler(c Controller) http.Handler {
	return core.NewHTTPHandler(c)
}
