package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/kubernetes"
)

// Status is the per-resource outcome reported to callers.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAlreadyExists Status = "already-exists"
	StatusSkipped       Status = "skipped"
	StatusFailed        Status = "failed"
)

// Outcome records what happened to one definition. Name and Namespace are
// the rewritten values.
type Outcome struct {
	Kind       string `json:"kind"`
	APIVersion string `json:"apiVersion"`
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Err        error  `json:"-"`
}

// Config configures an Orchestrator.
type Config struct {
	// Registry defaults to DefaultRegistry().
	Registry *Registry
	Logger   *slog.Logger
}

// Orchestrator applies parsed definitions to a cluster.
type Orchestrator struct {
	registry *Registry
	log      *slog.Logger
}

// New returns an Orchestrator for cfg.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{registry: cfg.Registry, log: cfg.Logger}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// Apply rewrites each definition for owner and creates it through client,
// in order. The returned outcomes cover every definition processed up to
// and including the one that failed; later definitions are not attempted.
// Nothing is rolled back.
//
// Errors wrap ErrMalformedOutput, ErrResourceConflict or ErrClusterAPI.
func (o *Orchestrator) Apply(
	ctx context.Context,
	defs []*unstructured.Unstructured,
	owner string,
	client kubernetes.Interface,
) ([]Outcome, error) {
	if owner == "" {
		return nil, errors.New("owner must not be empty")
	}
	if client == nil {
		return nil, errors.New("cluster client must not be nil")
	}

	outcomes := make([]Outcome, 0, len(defs))
	for i, obj := range defs {
		if err := ctx.Err(); err != nil {
			return outcomes, fmt.Errorf("apply resource %d: %w", i, err)
		}

		if err := Rewrite(obj, owner); err != nil {
			outcomes = append(outcomes, outcomeFor(obj, StatusFailed, err))
			return outcomes, fmt.Errorf("resource %d: %w", i, err)
		}
		log := o.log.With(
			"kind", obj.GetKind(), "api_version", obj.GetAPIVersion(),
			"namespace", obj.GetNamespace(), "name", obj.GetName(),
		)

		reg, ok := o.registry.Lookup(obj.GetAPIVersion(), obj.GetKind())
		if !ok {
			log.Info("no creation strategy registered, skipping resource")
			outcomes = append(outcomes, outcomeFor(obj, StatusSkipped, nil))
			continue
		}

		res := reg.Strategy.Create(ctx, client, obj)
		switch res.Status {
		case Created:
			log.Info("resource created")
			outcomes = append(outcomes, outcomeFor(obj, StatusCreated, nil))

		case AlreadyExists:
			outcomes = append(outcomes, outcomeFor(obj, StatusAlreadyExists, res.Err))
			if reg.AllowExisting {
				log.Info("resource already exists")
				continue
			}
			log.Warn("resource already exists, aborting batch")
			return outcomes, fmt.Errorf("%w: %s %s/%s", ErrResourceConflict,
				obj.GetKind(), obj.GetNamespace(), obj.GetName())

		default:
			outcomes = append(outcomes, outcomeFor(obj, StatusFailed, res.Err))
			log.Warn("resource creation failed, aborting batch", "error", res.Err)
			if errors.Is(res.Err, ErrMalformedOutput) {
				return outcomes, fmt.Errorf("resource %d: %w", i, res.Err)
			}
			return outcomes, fmt.Errorf("%w: create %s %s/%s: %w", ErrClusterAPI,
				obj.GetKind(), obj.GetNamespace(), obj.GetName(), res.Err)
		}
	}
	return outcomes, nil
}

func outcomeFor(obj *unstructured.Unstructured, status Status, err error) Outcome {
	return Outcome{
		Kind:       obj.GetKind(),
		APIVersion: obj.GetAPIVersion(),
		Namespace:  obj.GetNamespace(),
		Name:       obj.GetName(),
		Status:     status,
		Err:        err,
	}
}

// Summary aggregates a batch of outcomes.
type Summary struct {
	// Success is true when the batch completed without error.
	Success bool
	Counts  map[Status]int
}

// Summarize aggregates outcomes. A batch succeeds iff err is nil; skipped
// resources do not fail it.
func Summarize(outcomes []Outcome, err error) Summary {
	s := Summary{Success: err == nil, Counts: make(map[Status]int, 4)}
	for _, o := range outcomes {
		s.Counts[o.Status]++
	}
	return s
}

// String renders the counts for a response message.
func (s Summary) String() string {
	return fmt.Sprintf("%d created, %d already existed, %d skipped, %d failed",
		s.Counts[StatusCreated], s.Counts[StatusAlreadyExists], s.Counts[StatusSkipped], s.Counts[StatusFailed])
}
