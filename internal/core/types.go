package core

import (
	"context"

	"github.com/giantswarm/labrunner/internal/clusterpool"
	"github.com/giantswarm/labrunner/internal/orchestrator"
	"github.com/giantswarm/labrunner/internal/repocache"
	"k8s.io/client-go/kubernetes"
)

// Aliases re-exported by the public package so its API does not name
// internal packages.
type (
	Registry       = orchestrator.Registry
	Strategy       = orchestrator.Strategy
	CreateResult   = orchestrator.CreateResult
	CreateStatus   = orchestrator.CreateStatus
	Outcome        = orchestrator.Outcome
	RegisterOption = orchestrator.RegisterOption
	ClusterFactory = clusterpool.Factory
	Credential     = repocache.Credential
)

// TypedStrategy adapts a create function over a concrete client-go type to
// a Strategy. The manifest is converted into *T before create is called.
func TypedStrategy[T any](create func(ctx context.Context, client kubernetes.Interface, obj *T) error) Strategy {
	return orchestrator.Typed(orchestrator.CreateFunc[T](create))
}

// DefaultRegistry returns a registry holding the built-in strategies.
func DefaultRegistry() *Registry {
	return orchestrator.DefaultRegistry()
}

// AllowExisting makes AlreadyExists a non-fatal outcome for a kind.
func AllowExisting() RegisterOption {
	return orchestrator.AllowExisting()
}

// Classify maps a client-go create error to a CreateResult.
func Classify(err error) CreateResult {
	return orchestrator.Classify(err)
}

// Creation statuses returned by a Strategy.
const (
	Created       = orchestrator.Created
	AlreadyExists = orchestrator.AlreadyExists
	Failed        = orchestrator.Failed
)
