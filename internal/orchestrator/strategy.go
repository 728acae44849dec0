package orchestrator

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
)

// CreateStatus tags the result of one creation call.
type CreateStatus int

const (
	// Created means the object did not exist and was created.
	Created CreateStatus = iota
	// AlreadyExists means an object with the same name was already there.
	AlreadyExists
	// Failed covers every other error.
	Failed
)

// String returns the name of the status.
func (s CreateStatus) String() string {
	switch s {
	case Created:
		return "Created"
	case AlreadyExists:
		return "AlreadyExists"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("CreateStatus(%d)", int(s))
	}
}

// CreateResult is the tagged outcome of Strategy.Create. Err is set for
// AlreadyExists and Failed.
type CreateResult struct {
	Status CreateStatus
	Err    error
}

// Strategy creates one kind of object in a cluster.
type Strategy interface {
	Create(ctx context.Context, client kubernetes.Interface, obj *unstructured.Unstructured) CreateResult
}

// CreateFunc creates a typed object through the clientset.
type CreateFunc[T any] func(ctx context.Context, client kubernetes.Interface, obj *T) error

// typedStrategy converts the definition to T before calling create.
type typedStrategy[T any] struct {
	create CreateFunc[T]
}

// Typed returns a Strategy that converts definitions to *T with the
// unstructured converter and calls create.
func Typed[T any](create CreateFunc[T]) Strategy {
	return typedStrategy[T]{create: create}
}

// Create implements Strategy.
func (s typedStrategy[T]) Create(ctx context.Context, client kubernetes.Interface, obj *unstructured.Unstructured) CreateResult {
	typed := new(T)
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.UnstructuredContent(), typed); err != nil {
		return CreateResult{
			Status: Failed,
			Err:    fmt.Errorf("%w: convert to %T: %w", ErrMalformedOutput, typed, err),
		}
	}
	return Classify(s.create(ctx, client, typed))
}

// Classify maps a clientset error to a CreateResult.
func Classify(err error) CreateResult {
	switch {
	case err == nil:
		return CreateResult{Status: Created}
	case apierrors.IsAlreadyExists(err):
		return CreateResult{Status: AlreadyExists, Err: err}
	default:
		return CreateResult{Status: Failed, Err: err}
	}
}

func createDeployment(ctx context.Context, client kubernetes.Interface, d *appsv1.Deployment) error {
	_, err := client.AppsV1().Deployments(d.Namespace).Create(ctx, d, metav1.CreateOptions{})
	return err
}

func createService(ctx context.Context, client kubernetes.Interface, s *corev1.Service) error {
	_, err := client.CoreV1().Services(s.Namespace).Create(ctx, s, metav1.CreateOptions{})
	return err
}
