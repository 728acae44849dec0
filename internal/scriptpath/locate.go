package scriptpath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/giantswarm/labrunner/internal/sentinel"
)

// ErrPathSecurityViolation is returned when the resolved script path would
// leave the repository root.
const ErrPathSecurityViolation = sentinel.Error("script path escapes repository root")

// ErrScriptNotFound is returned when the resolved path is within bounds but
// no regular file exists there.
const ErrScriptNotFound = sentinel.Error("script not found")

// DefaultEntrypoint is the file name looked up inside an action directory.
const DefaultEntrypoint = "main.py"

// Resolver locates task entrypoints. The zero value is not usable; create
// one with New.
type Resolver struct {
	entrypoint string
}

// New returns a Resolver that looks for entrypoint inside each action
// directory. An empty entrypoint uses DefaultEntrypoint.
//
// Panics if entrypoint is not a plain file name.
func New(entrypoint string) *Resolver {
	if entrypoint == "" {
		entrypoint = DefaultEntrypoint
	}
	if !isPlainName(entrypoint) {
		panic(fmt.Sprintf("labrunner: entrypoint must be a plain file name, got %q", entrypoint))
	}
	return &Resolver{entrypoint: entrypoint}
}

// Entrypoint returns the configured entrypoint file name.
func (r *Resolver) Entrypoint() string {
	return r.entrypoint
}

// Locate returns the canonical absolute path of the entrypoint for the
// given task and action. Only the last element of action is used.
func (r *Resolver) Locate(repoRoot, templatePath, taskID, action string) (string, error) {
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", fmt.Errorf("absolute repo root: %w", err)
	}
	root, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("canonicalize repo root: %w", err)
	}

	if filepath.IsAbs(templatePath) || filepath.IsAbs(taskID) {
		return "", fmt.Errorf("%w: absolute path segment", ErrPathSecurityViolation)
	}

	actionName := filepath.Base(action)
	if !isPlainName(actionName) {
		return "", fmt.Errorf("%w: invalid action name %q", ErrPathSecurityViolation, action)
	}

	candidate := filepath.Join(root, templatePath, taskID, actionName, r.entrypoint)
	if !within(root, candidate) {
		return "", fmt.Errorf("%w: %s/%s", ErrPathSecurityViolation, templatePath, taskID)
	}

	canonical, err := canonicalize(candidate)
	if err != nil {
		return "", fmt.Errorf("canonicalize script path: %w", err)
	}
	if !within(root, canonical) {
		return "", fmt.Errorf("%w: symlink leaves repository", ErrPathSecurityViolation)
	}

	rel, _ := filepath.Rel(root, canonical)
	info, err := os.Stat(canonical)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, rel)
	case err != nil:
		return "", fmt.Errorf("stat script %s: %w", rel, err)
	case !info.Mode().IsRegular():
		return "", fmt.Errorf("%w: %s is not a regular file", ErrScriptNotFound, rel)
	}

	return canonical, nil
}

// isPlainName reports whether name is a single, non-special path element.
func isPlainName(name string) bool {
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return false
	}
	return !strings.ContainsRune(name, filepath.Separator)
}

// within reports whether p is a strict descendant of root. Both must be
// clean absolute paths.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonicalize resolves symlinks in the deepest existing ancestor of p and
// re-appends the components that do not exist yet.
func canonicalize(p string) (string, error) {
	existing := p
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return p, nil
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}
}
