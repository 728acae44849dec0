package repocache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/giantswarm/labrunner/internal/fileutil"
	"github.com/giantswarm/labrunner/internal/process"
)

// maxStderrInError bounds how much git stderr is carried in a GitError.
const maxStderrInError = 4 << 10

// GitError reports a failed git invocation. Stderr has credentials removed.
type GitError struct {
	Op     string
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *GitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("git %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", e.Op, e.Err, e.Stderr)
}

// Unwrap returns the underlying runner error.
func (e *GitError) Unwrap() error {
	return e.Err
}

// git runs the git binary with args in dir. secret is scrubbed from any
// error output.
func (c *Cache) git(ctx context.Context, dir, secret, op string, args ...string) error {
	res, err := c.runner.Run(ctx, process.Command{
		Path:    c.gitBinary,
		Args:    args,
		Dir:     dir,
		Env:     gitEnv(),
		Timeout: c.gitTimeout,
	})
	if err == nil {
		return nil
	}

	stderr := res.Stderr
	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		stderr = exitErr.Stderr
	}
	msg := strings.TrimSpace(redactSecret(string(stderr), secret))
	if len(msg) > maxStderrInError {
		msg = msg[:maxStderrInError] + "..."
	}
	return &GitError{Op: op, Stderr: msg, Err: err}
}

// gitEnv is the environment for git commands: the controller's own, with
// interactive credential prompts disabled.
func gitEnv() []string {
	return append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
}

// cloneDirPrefix is the name prefix of the temporary clone directories of
// the checkout named name.
func cloneDirPrefix(name string) string {
	return "." + name + ".clone-"
}

// sweepCloneDirs removes clone directories of name left behind by a process
// that died mid-clone. The caller holds the key's exclusive lease, so no
// live clone of name can be in progress.
func (c *Cache) sweepCloneDirs(name string) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		c.log.Debug("failed to list cache root", "dir", c.root, "error", err)
		return
	}
	prefix := cloneDirPrefix(name)
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), prefix)
		if !e.IsDir() || !ok || !isDigits(suffix) {
			continue
		}
		stale := filepath.Join(c.root, e.Name())
		if err := os.RemoveAll(stale); err != nil {
			c.log.Warn("failed to remove stale clone dir", "dir", stale, "error", err)
			continue
		}
		c.log.Info("removed stale clone dir", "dir", stale)
	}
}

// isDigits reports whether s is a non-empty run of ASCII digits, the form
// of the random part os.MkdirTemp appends.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// clone makes a shallow single-branch clone of source at revision into
// target. The clone happens in a temporary sibling directory renamed into
// place on success, so target never holds a partial checkout.
func (c *Cache) clone(ctx context.Context, target, name, source, revision string) error {
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove stale checkout %s: %w", target, err)
	}

	c.sweepCloneDirs(name)

	tmp, err := os.MkdirTemp(c.root, cloneDirPrefix(name))
	if err != nil {
		return fmt.Errorf("create clone dir: %w", err)
	}
	defer func() {
		// After a successful rename tmp no longer exists and this is a no-op.
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			c.log.Debug("failed to remove clone dir", "dir", tmp, "error", rmErr)
		}
	}()

	remote, secret := authURL(source, c.credentials)
	if err := c.git(ctx, "", secret, "clone",
		"clone", "--quiet", "--depth", "1", "--single-branch", "--branch", revision, "--", remote, tmp,
	); err != nil {
		return err
	}

	// Keep the token out of .git/config; pulls pass the authenticated URL
	// explicitly.
	if secret != "" {
		if err := c.git(ctx, tmp, secret, "remote set-url",
			"remote", "set-url", "origin", RedactURL(source),
		); err != nil {
			return err
		}
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("move clone into place: %w", err)
	}
	return nil
}

// pull fast-forwards the checkout at dir to the remote revision. The URL
// and revision are passed explicitly so tag checkouts and authenticated
// remotes work the same way as branches.
func (c *Cache) pull(ctx context.Context, dir, source, revision string) error {
	remote, secret := authURL(source, c.credentials)
	return c.git(ctx, dir, secret, "pull",
		"pull", "--quiet", "--ff-only", remote, revision,
	)
}

// isCheckout reports whether dir looks like a complete git working tree.
func isCheckout(dir string) bool {
	if !fileutil.IsDir(dir) {
		return false
	}
	ok, err := fileutil.Exists(filepath.Join(dir, ".git"))
	return err == nil && ok
}
