package repocache

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/labrunner/internal/process"
)

// requireGit skips the test when git is not installed.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

// runGit runs a setup git command and fails the test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=lab", "GIT_AUTHOR_EMAIL=lab@example.com",
		"GIT_COMMITTER_NAME=lab", "GIT_COMMITTER_EMAIL=lab@example.com",
		"GIT_CONFIG_NOSYSTEM=1",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// origin is a bare repository with a working clone used to push commits.
type origin struct {
	t    *testing.T
	work string
	bare string
}

// newOrigin creates a bare repository whose main branch holds one commit
// with VERSION=v1. Its URL uses file:// so clones honor --depth.
func newOrigin(t *testing.T) *origin {
	t.Helper()
	requireGit(t)

	base := t.TempDir()
	o := &origin{t: t, work: filepath.Join(base, "work"), bare: filepath.Join(base, "origin.git")}
	runGit(t, base, "init", "--quiet", o.work)
	runGit(t, o.work, "checkout", "--quiet", "-b", "main")
	o.commit("v1")
	runGit(t, base, "clone", "--quiet", "--bare", o.work, o.bare)
	return o
}

// URL returns the clone URL of the bare repository.
func (o *origin) URL() string {
	return "file://" + o.bare
}

// commit writes VERSION=content in the work tree and commits it.
func (o *origin) commit(content string) {
	o.t.Helper()
	if err := os.WriteFile(filepath.Join(o.work, "VERSION"), []byte(content), 0o644); err != nil {
		o.t.Fatalf("write VERSION: %v", err)
	}
	runGit(o.t, o.work, "add", "VERSION")
	runGit(o.t, o.work, "commit", "--quiet", "-m", content)
}

// push commits VERSION=content and pushes main to the bare repository.
func (o *origin) push(content string) {
	o.t.Helper()
	o.commit(content)
	runGit(o.t, o.work, "push", "--quiet", o.bare, "main")
}

// readVersion returns the VERSION file of a checkout.
func readVersion(t *testing.T, dir string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, "VERSION"))
	if err != nil {
		t.Fatalf("read VERSION: %v", err)
	}
	return string(b)
}

// mustResolve resolves source at revision, releases the read lease and
// returns the checkout directory.
func mustResolve(t *testing.T, c *Cache, ctx context.Context, source, revision string) string {
	t.Helper()
	dir, release, err := c.Resolve(ctx, source, revision)
	if err != nil {
		t.Fatalf("Resolve(%q, %q) error: %v", source, revision, err)
	}
	release()
	return dir
}

// countingRunner records git subcommands and can fail selected ones.
type countingRunner struct {
	inner Runner

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newCountingRunner() *countingRunner {
	return &countingRunner{
		inner: process.NewRunner(process.Config{}),
		calls: make(map[string]int),
		fail:  make(map[string]bool),
	}
}

func (r *countingRunner) Run(ctx context.Context, c process.Command) (process.Result, error) {
	op := ""
	if len(c.Args) > 0 {
		op = c.Args[0]
	}
	r.mu.Lock()
	r.calls[op]++
	fail := r.fail[op]
	r.mu.Unlock()

	if fail {
		return process.Result{ExitCode: 1}, &process.ExitError{Code: 1, Stderr: []byte("simulated " + op + " failure")}
	}
	return r.inner.Run(ctx, c)
}

func (r *countingRunner) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *countingRunner) setFail(op string, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[op] = fail
}

// memIndex is an in-memory Index with manual expiry and injectable errors.
type memIndex struct {
	mu      sync.Mutex
	entries map[string]string
	ttls    map[string]time.Duration
	err     error
}

func newMemIndex() *memIndex {
	return &memIndex{entries: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *memIndex) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memIndex) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memIndex) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.entries, key)
	delete(m.ttls, key)
	return nil
}

// expire drops key as if its ttl had elapsed.
func (m *memIndex) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *memIndex) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memIndex) lookup(key string) (string, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, m.ttls[key], ok
}

var errIndexDown = errors.New("connection refused")
