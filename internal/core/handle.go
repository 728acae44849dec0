package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/giantswarm/labrunner/internal/orchestrator"
	"github.com/giantswarm/labrunner/internal/process"
	"github.com/giantswarm/labrunner/internal/repocache"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// requestState is a step of the per-request state machine. stateApplied is
// the only successful terminal state. The failed, invalid and partially
// applied states end a request.
type requestState string

const (
	stateReceived          requestState = "RECEIVED"
	stateRepoResolving     requestState = "REPO_RESOLVING"
	stateRepoReady         requestState = "REPO_READY"
	stateRepoFailed        requestState = "REPO_FAILED"
	statePathValidating    requestState = "PATH_VALIDATING"
	statePathOK            requestState = "PATH_OK"
	statePathInvalid       requestState = "PATH_INVALID"
	stateScriptRunning     requestState = "SCRIPT_RUNNING"
	stateScriptOK          requestState = "SCRIPT_OK"
	stateScriptFailed      requestState = "SCRIPT_FAILED"
	stateResourcesApplying requestState = "RESOURCES_APPLYING"
	stateApplied           requestState = "APPLIED"
	statePartiallyApplied  requestState = "PARTIALLY_APPLIED_ERROR"
)

// Handle runs one lab action to completion and returns its response. It
// never panics on bad input and never returns internal error chains;
// those are logged with the request id. The request id is taken from ctx
// (see WithRequestID) or generated.
func (c *Controller) Handle(ctx context.Context, req Request) Response {
	id := RequestIDFrom(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = WithRequestID(ctx, id)
	}
	log := Logger().With("request_id", id)

	ctx, span := c.tracer.Start(ctx, "lab.handle", trace.WithAttributes(
		attribute.String("lab.request_id", id),
		attribute.String("lab.task_id", req.TaskID),
		attribute.String("lab.action", req.Action),
		attribute.String("lab.cluster_id", req.ClusterID),
		attribute.String("lab.owner", req.Owner),
	))
	defer span.End()

	rep, err := c.handle(ctx, log, req)
	resp := buildResponse(rep, err)
	span.SetAttributes(
		attribute.String("lab.result", string(resp.Result)),
		attribute.Int("http.status_code", resp.StatusCode),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resp.Message)
		level := slog.LevelWarn
		if resp.StatusCode >= 500 {
			level = slog.LevelError
		}
		log.Log(ctx, level, "lab action failed",
			"result", resp.Result, "status_code", resp.StatusCode, "error", err)
		return resp
	}
	log.Info("lab action applied", "message", resp.Message)
	return resp
}

func (c *Controller) handle(ctx context.Context, log *slog.Logger, req Request) (report, error) {
	if err := c.enter(); err != nil {
		return report{}, err
	}
	defer c.leave()

	transition(log, stateReceived)
	if err := req.Validate(); err != nil {
		return report{}, err
	}

	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return report{}, err
	}
	defer release()

	return c.pipeline(ctx, log, req)
}

// pipeline resolves the checkout, runs the task script and applies its
// resources, logging every state transition.
func (c *Controller) pipeline(ctx context.Context, log *slog.Logger, req Request) (report, error) {
	var rep report

	transition(log, stateRepoResolving, "source", repocache.RedactURL(req.Source), "revision", req.Revision)
	var repoDir string
	releaseRepo := func() {}
	err := c.stage(ctx, "repo.resolve", func(ctx context.Context) error {
		dir, release, err := c.repos.Resolve(ctx, req.Source, req.Revision)
		if err != nil {
			return err
		}
		repoDir, releaseRepo = dir, release
		return nil
	})
	if err != nil {
		transition(log, stateRepoFailed)
		return rep, err
	}
	// The checkout is read until the script exits.
	defer releaseRepo()
	transition(log, stateRepoReady, "dir", repoDir)

	transition(log, statePathValidating)
	script, err := c.scripts.Locate(repoDir, req.TemplatePath, req.TaskID, req.Action)
	if err != nil {
		transition(log, statePathInvalid)
		if errors.Is(err, ErrPathSecurityViolation) {
			log.Warn("rejected script path outside repository",
				"template_path", req.TemplatePath, "task_id", req.TaskID, "action", req.Action)
		}
		return rep, err
	}
	transition(log, statePathOK, "script", script)

	transition(log, stateScriptRunning)
	var stdout []byte
	err = c.stage(ctx, "script.run", func(ctx context.Context) error {
		res, err := c.runner.Run(ctx, c.scriptCommand(script, req))
		var exitErr *process.ExitError
		switch {
		case errors.As(err, &exitErr):
			rep.exitErr = exitErr
			return fmt.Errorf("%w: %w", ErrScriptExecution, err)
		case errors.Is(err, process.ErrTimedOut):
			return fmt.Errorf("%w: %w", ErrScriptTimeout, err)
		case err != nil:
			return fmt.Errorf("run script: %w", err)
		case res.Truncated:
			return fmt.Errorf("%w: script output exceeds the capture limit", ErrMalformedOutput)
		}
		stdout = res.Stdout
		if len(res.Stderr) > 0 {
			log.Debug("task script stderr", "stderr", tail(res.Stderr, maxStderrDetail))
		}
		return nil
	})
	releaseRepo()
	if err != nil {
		transition(log, stateScriptFailed)
		return rep, err
	}

	defs, err := orchestrator.Parse(stdout)
	if err != nil {
		transition(log, stateScriptFailed)
		return rep, err
	}
	transition(log, stateScriptOK, "resources", len(defs))

	transition(log, stateResourcesApplying)
	err = c.stage(ctx, "resources.apply", func(ctx context.Context) error {
		client, err := c.clients.Get(ctx, req.ClusterID)
		if err != nil {
			return fmt.Errorf("%w: cluster %s: %w", ErrClusterAPI, req.ClusterID, err)
		}
		rep.outcomes, err = c.orch.Apply(ctx, defs, req.Owner, client)
		return err
	})
	if err != nil {
		transition(log, statePartiallyApplied, "processed", len(rep.outcomes))
		return rep, err
	}
	transition(log, stateApplied, "processed", len(rep.outcomes))
	return rep, nil
}

// stage runs fn inside a child span named name.
func (c *Controller) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return err
	}
	return nil
}

// scriptCommand builds the invocation of script for req. The working
// directory is the script's own directory.
func (c *Controller) scriptCommand(script string, req Request) process.Command {
	cmd := process.Command{
		Path:    script,
		Dir:     filepath.Dir(script),
		Env:     req.scriptEnv(os.Environ(), c.cfg.KubeconfigPath),
		Timeout: c.cfg.ScriptTimeout,
	}
	if c.cfg.Interpreter != "" {
		cmd.Path = c.cfg.Interpreter
		cmd.Args = []string{script}
	}
	return cmd
}

func transition(log *slog.Logger, s requestState, args ...any) {
	log.Debug("request state", append([]any{"state", string(s)}, args...)...)
}
