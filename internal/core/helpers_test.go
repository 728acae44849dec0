package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/giantswarm/labrunner/internal/process"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

const nginxOutput = `[` +
	`{"kind":"Deployment","apiVersion":"apps/v1","metadata":{"name":"nginx","namespace":"default"},` +
	`"spec":{"selector":{"matchLabels":{"app":"nginx"}},"template":{"metadata":{"labels":{"app":"nginx"}}}}},` +
	`{"kind":"Service","apiVersion":"v1","metadata":{"name":"nginx"},` +
	`"spec":{"selector":{"app":"nginx"},"ports":[{"port":80}]}}]`

// fakeRunner records every command and answers with run, or an empty
// resource list when run is nil.
type fakeRunner struct {
	mu    sync.Mutex
	calls []process.Command
	run   func(ctx context.Context, c process.Command) (process.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, c process.Command) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	run := f.run
	f.mu.Unlock()
	if run == nil {
		return process.Result{Stdout: []byte("[]")}, nil
	}
	return run(ctx, c)
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) last() process.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// stdoutRunner answers every command with output on stdout.
func stdoutRunner(output string) *fakeRunner {
	return &fakeRunner{run: func(context.Context, process.Command) (process.Result, error) {
		return process.Result{Stdout: []byte(output)}, nil
	}}
}

// fakeRepos resolves every reference to dir, or fails with err. held is the
// number of checkouts not yet released.
type fakeRepos struct {
	dir   string
	err   error
	calls atomic.Int64
	held  atomic.Int64
}

func (f *fakeRepos) Resolve(context.Context, string, string) (string, func(), error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", nil, f.err
	}
	f.held.Add(1)
	var once sync.Once
	return f.dir, func() { once.Do(func() { f.held.Add(-1) }) }, nil
}

// labTree creates a template checkout with labs/basics/1/init/main.py and
// returns its root.
func labTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "labs", "basics", "1", "init")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('[]')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

// harness is a ready Controller wired to fakes.
type harness struct {
	ctrl   *Controller
	repos  *fakeRepos
	runner *fakeRunner
	client *fake.Clientset
	root   string
}

// newHarness builds and initializes a Controller over a fresh lab tree.
// modify may adjust the config before Initialize.
func newHarness(t *testing.T, runner *fakeRunner, modify func(*ControllerConfig)) *harness {
	t.Helper()
	h := &harness{
		runner: runner,
		client: fake.NewClientset(),
		root:   labTree(t),
	}
	h.repos = &fakeRepos{dir: h.root}

	state := t.TempDir()
	cfg := validControllerConfig()
	cfg.CacheRoot = filepath.Join(state, "repos")
	cfg.IndexPath = filepath.Join(state, "index.db")
	cfg.KubeconfigPath = ""
	cfg.Repos = h.repos
	cfg.ScriptRunner = runner
	cfg.ClusterFactory = func(context.Context, string) (kubernetes.Interface, func(), error) {
		return h.client, func() {}, nil
	}
	if modify != nil {
		modify(&cfg)
	}

	h.ctrl = NewController(cfg)
	if err := h.ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		if err := h.ctrl.Shutdown(); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return h
}

// createdNames returns the names of created objects in call order.
func (h *harness) createdNames() []string {
	var names []string
	for _, a := range h.client.Actions() {
		create, ok := a.(k8stesting.CreateAction)
		if !ok {
			continue
		}
		if obj, ok := create.GetObject().(metav1.Object); ok {
			names = append(names, obj.GetName())
		}
	}
	return names
}
