package labrunner

import (
	"context"

	"github.com/giantswarm/labrunner/internal/core"
	"k8s.io/client-go/kubernetes"
)

type (
	// Request is one lab action as received on the HTTP boundary.
	Request = core.Request

	// Response is the outcome of a lab action.
	Response = core.Response

	// Details carries per-resource outcomes and script diagnostics.
	Details = core.Details

	// Result classifies a Response.
	Result = core.Result

	// Outcome records what happened to one resource.
	Outcome = core.Outcome

	// Strategy creates one kind of object in a cluster.
	Strategy = core.Strategy

	// CreateResult is the tagged result of Strategy.Create.
	CreateResult = core.CreateResult

	// CreateStatus tags a CreateResult.
	CreateStatus = core.CreateStatus

	// RegisterOption adjusts a strategy registration.
	RegisterOption = core.RegisterOption

	// ClusterFactory builds a client for a cluster identifier. The
	// returned func releases the client's resources.
	ClusterFactory = core.ClusterFactory

	// Credential authenticates https clones against one git host.
	Credential = core.Credential
)

// Response results.
const (
	ResultSuccess = core.ResultSuccess
	ResultFailed  = core.ResultFailed
	ResultError   = core.ResultError
)

// Creation statuses returned by a Strategy.
const (
	Created       = core.Created
	AlreadyExists = core.AlreadyExists
	Failed        = core.Failed
)

// Environment variables set for task scripts.
const (
	EnvClusterID  = core.EnvClusterID
	EnvTaskID     = core.EnvTaskID
	EnvOwner      = core.EnvOwner
	EnvAction     = core.EnvAction
	EnvKubeconfig = core.EnvKubeconfig
)

// TypedStrategy returns a Strategy that converts each manifest into *T and
// passes it to create. Errors from create are classified by their
// Kubernetes API status.
//
//	labrunner.WithStrategy("v1", "ConfigMap",
//	    labrunner.TypedStrategy(func(ctx context.Context, c kubernetes.Interface, cm *corev1.ConfigMap) error {
//	        _, err := c.CoreV1().ConfigMaps(cm.Namespace).Create(ctx, cm, metav1.CreateOptions{})
//	        return err
//	    }))
//
//nolint:ireturn // Strategy is the registration currency.
func TypedStrategy[T any](create func(ctx context.Context, client kubernetes.Interface, obj *T) error) Strategy {
	return core.TypedStrategy(create)
}

// AllowExisting makes AlreadyExists a non-fatal outcome for the kind it is
// registered with.
func AllowExisting() RegisterOption {
	return core.AllowExisting()
}

// WithRequestID returns ctx carrying id. Handle logs and traces under it
// instead of generating one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return core.WithRequestID(ctx, id)
}
