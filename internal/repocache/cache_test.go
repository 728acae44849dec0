package repocache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/labrunner/internal/kvindex"
)

func newTestCache(t *testing.T, idx Index, runner Runner) *Cache {
	t.Helper()
	return New(Config{Root: t.TempDir(), Index: idx, Runner: runner})
}

func TestResolveClonesThenPulls(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	idx := newMemIndex()
	runner := newCountingRunner()
	c := newTestCache(t, idx, runner)
	ctx := context.Background()

	first := mustResolve(t, c, ctx, o.URL(), "main")
	if got := readVersion(t, first); got != "v1" {
		t.Fatalf("VERSION = %q, want v1", got)
	}
	if want := filepath.Join(c.Root(), DirName(o.URL(), "main")); first != want {
		t.Errorf("Resolve() = %q, want %q", first, want)
	}

	// An untracked marker survives a pull but not a reclone.
	marker := filepath.Join(first, "marker")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	o.push("v2")

	second := mustResolve(t, c, ctx, o.URL(), "main")
	if second != first {
		t.Errorf("second Resolve() = %q, want %q", second, first)
	}
	if got := readVersion(t, second); got != "v2" {
		t.Errorf("VERSION after pull = %q, want v2", got)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("marker missing, checkout was recloned: %v", err)
	}
	if n := runner.count("clone"); n != 1 {
		t.Errorf("clone count = %d, want 1", n)
	}
	if n := runner.count("pull"); n != 1 {
		t.Errorf("pull count = %d, want 1", n)
	}

	value, ttl, ok := idx.lookup(Key(o.URL(), "main"))
	if !ok || value != first {
		t.Errorf("index entry = %q (present %v), want %q", value, ok, first)
	}
	if ttl != DefaultTTL {
		t.Errorf("index ttl = %s, want %s", ttl, DefaultTTL)
	}
}

func TestResolvePullFailureReclones(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	idx := newMemIndex()
	runner := newCountingRunner()
	c := newTestCache(t, idx, runner)
	ctx := context.Background()

	dir := mustResolve(t, c, ctx, o.URL(), "main")
	marker := filepath.Join(dir, "marker")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	runner.setFail("pull", true)
	again := mustResolve(t, c, ctx, o.URL(), "main")
	if again != dir {
		t.Errorf("Resolve() = %q, want %q", again, dir)
	}
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("marker still present, checkout was not recloned (stat err %v)", err)
	}
	if n := runner.count("clone"); n != 2 {
		t.Errorf("clone count = %d, want 2", n)
	}

	value, _, ok := idx.lookup(Key(o.URL(), "main"))
	if !ok || value != dir {
		t.Fatalf("index entry = %q (present %v), want %q", value, ok, dir)
	}
	if !isCheckout(value) {
		t.Errorf("index points at %q which is not a checkout", value)
	}
}

func TestResolveDivergedCheckoutReclones(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	c := newTestCache(t, newMemIndex(), nil)
	ctx := context.Background()

	dir := mustResolve(t, c, ctx, o.URL(), "main")

	// A local commit plus a new upstream commit makes --ff-only fail.
	if err := os.WriteFile(filepath.Join(dir, "VERSION"), []byte("local"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runGit(t, dir, "commit", "--quiet", "-am", "local")
	o.push("v2")

	again := mustResolve(t, c, ctx, o.URL(), "main")
	if got := readVersion(t, again); got != "v2" {
		t.Errorf("VERSION = %q, want v2", got)
	}
}

func TestResolveExpiredEntryReclones(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	idx := newMemIndex()
	runner := newCountingRunner()
	c := newTestCache(t, idx, runner)
	ctx := context.Background()

	mustResolve(t, c, ctx, o.URL(), "main")
	idx.expire(Key(o.URL(), "main"))

	mustResolve(t, c, ctx, o.URL(), "main")
	if n := runner.count("clone"); n != 2 {
		t.Errorf("clone count = %d, want 2", n)
	}
	if n := runner.count("pull"); n != 0 {
		t.Errorf("pull count = %d, want 0", n)
	}
}

func TestResolveMissingDirectoryReclones(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	runner := newCountingRunner()
	c := newTestCache(t, newMemIndex(), runner)
	ctx := context.Background()

	dir := mustResolve(t, c, ctx, o.URL(), "main")
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove checkout: %v", err)
	}

	again := mustResolve(t, c, ctx, o.URL(), "main")
	if !isCheckout(again) {
		t.Errorf("Resolve() = %q, not a checkout", again)
	}
	if n := runner.count("pull"); n != 0 {
		t.Errorf("pull count = %d, want 0", n)
	}
}

func TestResolveIndexUnavailable(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	idx := newMemIndex()
	idx.setErr(errIndexDown)
	runner := newCountingRunner()
	c := newTestCache(t, idx, runner)

	_, _, err := c.Resolve(context.Background(), o.URL(), "main")
	if !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrCacheUnavailable", err)
	}
	if !errors.Is(err, errIndexDown) {
		t.Errorf("Resolve() error = %v, want cause in chain", err)
	}
	if n := runner.count("clone"); n != 0 {
		t.Errorf("clone count = %d, want 0", n)
	}
}

func TestResolveCloneFailure(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	idx := newMemIndex()
	c := newTestCache(t, idx, nil)

	_, _, err := c.Resolve(context.Background(), o.URL(), "no-such-branch")
	if !errors.Is(err, ErrCloneFailure) {
		t.Fatalf("Resolve() error = %v, want ErrCloneFailure", err)
	}
	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("Resolve() error = %v, want *GitError in chain", err)
	}
	if gitErr.Stderr == "" {
		t.Error("GitError.Stderr is empty, want git's message")
	}

	if _, _, ok := idx.lookup(Key(o.URL(), "no-such-branch")); ok {
		t.Error("index entry written for failed clone")
	}
	entries, err := os.ReadDir(c.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, e := range entries {
		if e.Name() != locksDir {
			t.Errorf("leftover entry %q in cache root after failed clone", e.Name())
		}
	}
}

func TestResolveConcurrentSameKey(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	idx := newMemIndex()
	runner := newCountingRunner()
	root := t.TempDir()

	// Two caches over one root and index stand in for two processes.
	caches := []*Cache{
		New(Config{Root: root, Index: idx, Runner: runner}),
		New(Config{Root: root, Index: idx, Runner: runner}),
	}

	const workers = 8
	results := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var release func()
			results[i], release, errs[i] = caches[i%2].Resolve(context.Background(), o.URL(), "main")
			if release != nil {
				release()
			}
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: Resolve() error: %v", i, err)
		}
		if results[i] != results[0] {
			t.Errorf("worker %d: Resolve() = %q, want %q", i, results[i], results[0])
		}
	}
	if n := runner.count("clone"); n != 1 {
		t.Errorf("clone count = %d, want 1", n)
	}
	if got := readVersion(t, results[0]); got != "v1" {
		t.Errorf("VERSION = %q, want v1", got)
	}

	value, _, ok := idx.lookup(Key(o.URL(), "main"))
	if !ok || value != results[0] || !isCheckout(value) {
		t.Errorf("index entry = %q (present %v), want valid checkout %q", value, ok, results[0])
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".clone-") {
			t.Errorf("leftover temporary clone %q", e.Name())
		}
	}
}

func TestResolveWaitsForReaders(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	idx := newMemIndex()
	runner := newCountingRunner()
	c := newTestCache(t, idx, runner)

	dir, release, err := c.Resolve(context.Background(), o.URL(), "main")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	defer release()
	before, err := os.Stat(filepath.Join(dir, "VERSION"))
	if err != nil {
		t.Fatalf("stat VERSION: %v", err)
	}

	// A failed pull and an expired entry both reclone, so both must wait
	// for the reader.
	tests := map[string]func(){
		"pull failure":  func() { runner.setFail("pull", true) },
		"expired entry": func() { idx.expire(Key(o.URL(), "main")) },
	}
	for name, prepare := range tests {
		prepare()
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		_, _, err := c.Resolve(ctx, o.URL(), "main")
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("%s: Resolve() while leased error = %v, want context.DeadlineExceeded", name, err)
		}

		after, err := os.Stat(filepath.Join(dir, "VERSION"))
		if err != nil {
			t.Fatalf("%s: checkout changed under reader: %v", name, err)
		}
		if !os.SameFile(before, after) {
			t.Errorf("%s: checkout replaced while leased", name)
		}
		if got := readVersion(t, dir); got != "v1" {
			t.Errorf("%s: VERSION = %q, want v1", name, got)
		}
	}
	if n := runner.count("clone"); n != 1 {
		t.Errorf("clone count while leased = %d, want 1", n)
	}

	release()
	again := mustResolve(t, c, context.Background(), o.URL(), "main")
	if !isCheckout(again) {
		t.Errorf("Resolve() after release = %q, not a checkout", again)
	}
	if n := runner.count("clone"); n != 2 {
		t.Errorf("clone count after release = %d, want 2", n)
	}
}

func TestResolveReadersShareLease(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	c := newTestCache(t, newMemIndex(), nil)
	dir := mustResolve(t, c, context.Background(), o.URL(), "main")

	first, err := acquireSharedLease(context.Background(), c.Root(), filepath.Base(dir))
	if err != nil {
		t.Fatalf("acquireSharedLease() error: %v", err)
	}
	defer releaseLease(c.log, first)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := acquireSharedLease(ctx, c.Root(), filepath.Base(dir))
	if err != nil {
		t.Fatalf("second acquireSharedLease() error: %v", err)
	}
	releaseLease(c.log, second)

	ctx, cancel = context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := acquireLease(ctx, c.Root(), filepath.Base(dir)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("acquireLease() under a reader error = %v, want context.DeadlineExceeded", err)
	}
}

func TestResolveRemovesStaleCloneDirs(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	c := newTestCache(t, newMemIndex(), nil)
	name := DirName(o.URL(), "main")

	stale := filepath.Join(c.Root(), cloneDirPrefix(name)+"1234567")
	if err := os.MkdirAll(filepath.Join(stale, ".git"), 0o755); err != nil {
		t.Fatalf("create stale clone dir: %v", err)
	}
	other := filepath.Join(c.Root(), cloneDirPrefix(name)+"keep")
	if err := os.Mkdir(other, 0o755); err != nil {
		t.Fatalf("create unrelated dir: %v", err)
	}

	dir := mustResolve(t, c, context.Background(), o.URL(), "main")
	if got := readVersion(t, dir); got != "v1" {
		t.Errorf("VERSION = %q, want v1", got)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale clone dir still present (stat err %v)", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated dir removed: %v", err)
	}
}

func TestResolveReleaseIdempotent(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	c := newTestCache(t, newMemIndex(), nil)

	_, release, err := c.Resolve(context.Background(), o.URL(), "main")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	release()
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mustResolve(t, c, ctx, o.URL(), "main")
}

func TestResolveWithSQLiteIndex(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	ctx := context.Background()

	store, err := kvindex.Open(ctx, kvindex.Config{Path: filepath.Join(t.TempDir(), "index.db")})
	if err != nil {
		t.Fatalf("kvindex.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	c := newTestCache(t, store, nil)
	dir := mustResolve(t, c, ctx, o.URL(), "main")

	value, ok, err := store.Get(ctx, Key(o.URL(), "main"))
	if err != nil || !ok || value != dir {
		t.Errorf("store.Get() = %q, %v, %v; want %q, true, nil", value, ok, err, dir)
	}
}

func TestResolveInvalidReference(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, newMemIndex(), newCountingRunner())

	tests := map[string]struct {
		source   string
		revision string
	}{
		"empty source":          {source: "", revision: "main"},
		"empty revision":        {source: "https://example.com/r.git", revision: ""},
		"option-like revision":  {source: "https://example.com/r.git", revision: "--upload-pack=x"},
		"option-like source":    {source: "-oProxyCommand=x", revision: "main"},
		"whitespace revision":   {source: "https://example.com/r.git", revision: "main branch"},
		"whitespace-only input": {source: "  ", revision: " "},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, _, err := c.Resolve(context.Background(), tc.source, tc.revision)
			if !errors.Is(err, ErrInvalidReference) {
				t.Errorf("Resolve() error = %v, want ErrInvalidReference", err)
			}
		})
	}
}

func TestResolveCanceledContext(t *testing.T) {
	t.Parallel()
	o := newOrigin(t)
	c := newTestCache(t, newMemIndex(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.Resolve(ctx, o.URL(), "main")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Resolve() error = %v, want context.Canceled", err)
	}
}

func TestNewPanics(t *testing.T) {
	t.Parallel()

	tests := map[string]Config{
		"empty root": {Index: newMemIndex()},
		"nil index":  {Root: "/tmp/cache"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Error("New() did not panic")
				}
			}()
			New(cfg)
		})
	}
}
