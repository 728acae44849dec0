package orchestrator

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const (
	// DefaultNamespace is used for definitions without metadata.namespace.
	DefaultNamespace = "default"

	// OwnerLabel carries the owner identity on every applied object.
	OwnerLabel = "lab-owner"

	// selectorLabel is the label Deployment and Service selectors match on.
	selectorLabel = "app"
)

// OwnedName returns the cluster name of an object called name owned by
// owner.
func OwnedName(owner, name string) string {
	return owner + "-" + name
}

// Rewrite scopes obj to owner in place: namespace defaulted, name prefixed,
// owner label merged, and Deployment/Service selectors re-pointed at the
// prefixed name.
func Rewrite(obj *unstructured.Unstructured, owner string) error {
	if obj.GetNamespace() == "" {
		obj.SetNamespace(DefaultNamespace)
	}

	name := OwnedName(owner, obj.GetName())
	obj.SetName(name)

	labels, _, err := unstructured.NestedStringMap(obj.Object, "metadata", "labels")
	if err != nil {
		return fmt.Errorf("%w: metadata.labels: %w", ErrMalformedOutput, err)
	}
	if labels == nil {
		labels = make(map[string]string, 1)
	}
	labels[OwnerLabel] = owner
	obj.SetLabels(labels)

	// The API server rejects a Deployment whose selector does not match its
	// pod template, and a Service must follow its renamed Deployment.
	var paths [][]string
	switch obj.GetKind() {
	case "Deployment":
		paths = [][]string{
			{"spec", "selector", "matchLabels", selectorLabel},
			{"spec", "template", "metadata", "labels", selectorLabel},
		}
	case "Service":
		paths = [][]string{
			{"spec", "selector", selectorLabel},
		}
	}
	for _, p := range paths {
		if err := unstructured.SetNestedField(obj.Object, name, p...); err != nil {
			return fmt.Errorf("%w: set %v: %w", ErrMalformedOutput, p, err)
		}
	}
	return nil
}
