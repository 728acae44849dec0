package clusterpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/giantswarm/labrunner/internal/sentinel"
	"golang.org/x/sync/singleflight"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/lru"
)

// ErrPoolClosed is returned by Get after Close.
const ErrPoolClosed = sentinel.Error("cluster client pool is closed")

// ErrEmptyClusterID is returned by Get for an empty identifier.
const ErrEmptyClusterID = sentinel.Error("cluster id must not be empty")

// DefaultSize is the number of clients kept when Config.Size is zero.
const DefaultSize = 64

// Factory builds the client for one cluster. The returned release func,
// which may be nil, is called once when the client leaves the pool.
type Factory func(ctx context.Context, clusterID string) (kubernetes.Interface, func(), error)

// Config configures a Pool.
type Config struct {
	// Size bounds the number of cached clients. Zero uses DefaultSize.
	Size    int
	Factory Factory
	Logger  *slog.Logger
}

// entry is one cached client.
type entry struct {
	client  kubernetes.Interface
	release func()
}

// Pool is a bounded, concurrency-safe cache of cluster clients.
type Pool struct {
	cache   *lru.Cache
	group   singleflight.Group
	factory Factory
	log     *slog.Logger

	// mu orders additions against Close so no client is added after the
	// final Clear.
	mu     sync.Mutex
	closed atomic.Bool
}

// New returns an empty Pool.
//
// Panics if cfg.Factory is nil or cfg.Size is negative.
func New(cfg Config) *Pool {
	if cfg.Factory == nil {
		panic("labrunner: clusterpool factory must not be nil")
	}
	if cfg.Size < 0 {
		panic(fmt.Sprintf("labrunner: clusterpool size must not be negative, got %d", cfg.Size))
	}
	size := cfg.Size
	if size == 0 {
		size = DefaultSize
	}

	p := &Pool{factory: cfg.Factory, log: cfg.Logger}
	if p.log == nil {
		p.log = slog.Default()
	}
	// The eviction func runs with the cache lock held; it must not call
	// back into the cache.
	p.cache = lru.NewWithEvictionFunc(size, func(key lru.Key, value any) {
		e, ok := value.(*entry)
		if !ok {
			return
		}
		if e.release != nil {
			e.release()
		}
		p.log.Debug("cluster client released", "cluster_id", key)
	})
	return p
}

// Get returns the cached client for clusterID, building it on first use.
// A failed build is not cached; the next Get retries.
func (p *Pool) Get(ctx context.Context, clusterID string) (kubernetes.Interface, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if clusterID == "" {
		return nil, ErrEmptyClusterID
	}

	if v, ok := p.cache.Get(clusterID); ok {
		return v.(*entry).client, nil
	}

	v, err, _ := p.group.Do(clusterID, func() (any, error) {
		// Another flight may have finished between the miss above and
		// this call.
		if v, ok := p.cache.Get(clusterID); ok {
			return v, nil
		}

		// One caller's cancellation must not fail every waiter on the
		// shared flight.
		client, release, err := p.factory(context.WithoutCancel(ctx), clusterID)
		if err != nil {
			return nil, fmt.Errorf("build client for cluster %q: %w", clusterID, err)
		}
		e := &entry{client: client, release: release}

		if !p.add(clusterID, e) {
			if release != nil {
				release()
			}
			return nil, ErrPoolClosed
		}
		p.log.Debug("cluster client created", "cluster_id", clusterID)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry).client, nil
}

// add caches e unless the pool is closed.
func (p *Pool) add(clusterID string, e *entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return false
	}
	p.cache.Add(clusterID, e)
	return true
}

// Len returns the number of cached clients.
func (p *Pool) Len() int {
	return p.cache.Len()
}

// Evict drops the client for clusterID, releasing it. Evicting an unknown
// identifier is a no-op.
func (p *Pool) Evict(clusterID string) {
	p.cache.Remove(clusterID)
}

// Close releases every cached client. Subsequent Get calls return
// ErrPoolClosed. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cache.Clear()
}
