package core

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

// maxOwnerLen keeps "<owner>-<name>" well inside the 63 character label
// limit for typical resource names.
const maxOwnerLen = 30

// Script environment variable names.
const (
	EnvClusterID  = "K8S_CLUSTER_ID"
	EnvTaskID     = "LAB_TASK_ID"
	EnvOwner      = "LAB_OWNER"
	EnvAction     = "LAB_ACTION"
	EnvKubeconfig = "AGGREGATED_KUBECONFIG_PATH"
)

// Request is one lab action. It is a value and is never modified after
// decoding.
type Request struct {
	Source       string `json:"lab_template_source"`
	Revision     string `json:"lab_template_revision"`
	TemplatePath string `json:"lab_template_path"`
	TaskID       string `json:"task_id"`
	Action       string `json:"action"`
	ClusterID    string `json:"k8s_cluster_id"`
	Owner        string `json:"lab_owner"`
}

// Validate reports every missing or malformed field in one error wrapping
// ErrInvalidRequest. The message is safe to return to the caller.
//
// Owners are lowercase alphanumeric DNS labels without hyphens, so the
// "<owner>-" prefix of one owner can never be a prefix produced by another.
func (r Request) Validate() error {
	var problems []string
	required := []struct {
		name, value string
	}{
		{"lab_template_source", r.Source},
		{"lab_template_revision", r.Revision},
		{"task_id", r.TaskID},
		{"action", r.Action},
		{"k8s_cluster_id", r.ClusterID},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			problems = append(problems, f.name+" is required")
		}
	}

	switch {
	case r.Owner == "":
		problems = append(problems, "lab_owner is required")
	case len(r.Owner) > maxOwnerLen:
		problems = append(problems, fmt.Sprintf("lab_owner must be at most %d characters", maxOwnerLen))
	case strings.Contains(r.Owner, "-"):
		problems = append(problems, "lab_owner must not contain '-'")
	default:
		for _, msg := range validation.IsDNS1123Label(r.Owner) {
			problems = append(problems, "lab_owner "+msg)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
}

// inheritedEnv lists the controller variables a task script may see. The
// rest of the controller environment, credentials included, is withheld.
var inheritedEnv = []string{
	"HOME", "LANG", "LANGUAGE", "LOGNAME", "PATH", "SHELL", "TMPDIR", "TZ", "USER",
}

// inherited reports whether the variable assignment kv passes to scripts.
func inherited(kv string) bool {
	name, _, _ := strings.Cut(kv, "=")
	return strings.HasPrefix(name, "LC_") || slices.Contains(inheritedEnv, name)
}

// scriptEnv returns the allowed part of base followed by the variables a
// task script reads.
func (r Request) scriptEnv(base []string, kubeconfig string) []string {
	env := make([]string, 0, len(inheritedEnv)+5)
	for _, kv := range base {
		if inherited(kv) {
			env = append(env, kv)
		}
	}
	return append(env,
		EnvClusterID+"="+r.ClusterID,
		EnvTaskID+"="+r.TaskID,
		EnvOwner+"="+r.Owner,
		EnvAction+"="+r.Action,
		EnvKubeconfig+"="+kubeconfig,
	)
}

type requestIDKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the id stored by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
