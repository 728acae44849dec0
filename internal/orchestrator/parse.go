package orchestrator

import (
	"bytes"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
)

// Parse decodes script output into resource definitions. The output must be
// exactly one JSON array whose items are objects carrying string kind and
// apiVersion fields and a metadata object with a non-empty name. Integral
// numbers decode as int64.
func Parse(stdout []byte) ([]*unstructured.Unstructured, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: output is not a JSON array", ErrMalformedOutput)
	}

	var items []any
	if err := utiljson.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	defs := make([]*unstructured.Unstructured, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: item %d is not an object", ErrMalformedOutput, i)
		}
		u := &unstructured.Unstructured{Object: obj}
		if err := validateDefinition(u); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrMalformedOutput, i, err)
		}
		defs = append(defs, u)
	}
	return defs, nil
}

// validateDefinition checks the fields Apply reads and rewrites.
func validateDefinition(u *unstructured.Unstructured) error {
	for _, field := range []string{"kind", "apiVersion"} {
		v, found, err := unstructured.NestedString(u.Object, field)
		if err != nil {
			return err
		}
		if !found || v == "" {
			return fmt.Errorf("missing %s", field)
		}
	}

	if _, found, err := unstructured.NestedMap(u.Object, "metadata"); err != nil {
		return err
	} else if !found {
		return errors.New("missing metadata")
	}

	name, found, err := unstructured.NestedString(u.Object, "metadata", "name")
	if err != nil {
		return err
	}
	if !found || name == "" {
		return errors.New("missing metadata.name")
	}

	if _, _, err := unstructured.NestedString(u.Object, "metadata", "namespace"); err != nil {
		return err
	}
	if _, _, err := unstructured.NestedStringMap(u.Object, "metadata", "labels"); err != nil {
		return err
	}
	return nil
}
