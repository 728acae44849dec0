package repocache

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/giantswarm/labrunner/internal/fileutil"
	"github.com/gofrs/flock"
)

// leaseRetryInterval is the polling interval while another goroutine or
// process holds a key's lease.
const leaseRetryInterval = 50 * time.Millisecond

// locksDir holds one lock file per checkout directory name.
const locksDir = ".locks"

// acquireLease takes the exclusive per-key file lock for the checkout named
// name. Clone, pull and delete happen only under it. flock(2) locks belong
// to the open file description, so two leases on the same key conflict
// whether they come from one process or many.
func acquireLease(ctx context.Context, root, name string) (*flock.Flock, error) {
	return lockKey(ctx, root, name, (*flock.Flock).TryLockContext)
}

// acquireSharedLease takes the per-key file lock in shared mode. Readers of
// a checkout hold it while they use the tree, so a writer waits for them.
func acquireSharedLease(ctx context.Context, root, name string) (*flock.Flock, error) {
	return lockKey(ctx, root, name, (*flock.Flock).TryRLockContext)
}

func lockKey(
	ctx context.Context,
	root, name string,
	try func(*flock.Flock, context.Context, time.Duration) (bool, error),
) (*flock.Flock, error) {
	dir := filepath.Join(root, locksDir)
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(dir, name+".lock")
	fl := flock.New(lockPath)

	locked, err := try(fl, ctx, leaseRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("lock %s: %w", lockPath, ctx.Err())
		}
		return nil, fmt.Errorf("lock %s: not acquired", lockPath)
	}
	return fl, nil
}

// releaseLease unlocks and closes the lease. The lock file stays on disk:
// removing it could split waiters across two different inodes.
func releaseLease(log *slog.Logger, fl *flock.Flock) {
	if fl == nil {
		return
	}
	if err := fl.Close(); err != nil {
		log.Debug("failed to release repository lease", "path", fl.Path(), "error", err)
	}
}

// releaseFunc returns an idempotent release for a shared lease.
func releaseFunc(log *slog.Logger, fl *flock.Flock) func() {
	var once sync.Once
	return func() {
		once.Do(func() { releaseLease(log, fl) })
	}
}
