package repocache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/giantswarm/labrunner/internal/process"
	"github.com/giantswarm/labrunner/internal/sentinel"
)

// ErrCacheUnavailable is returned when the index cannot be read or written.
// A lookup failure is reported before any clone is attempted.
const ErrCacheUnavailable = sentinel.Error("repository cache index unavailable")

// ErrCloneFailure is returned when cloning the repository fails. The chain
// also contains a *GitError carrying git's stderr.
const ErrCloneFailure = sentinel.Error("repository clone failed")

// ErrInvalidReference is returned for an empty source or revision, or one
// that git would parse as an option.
const ErrInvalidReference = sentinel.Error("invalid repository reference")

const (
	// DefaultTTL is how long an index entry stays fresh after a successful
	// resolve.
	DefaultTTL = 24 * time.Hour

	// DefaultGitTimeout bounds each git clone or pull.
	DefaultGitTimeout = 5 * time.Minute

	// DefaultGitBinary is looked up in PATH.
	DefaultGitBinary = "git"
)

// Index is the shared key/value index of checkouts.
type Index interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Runner runs git commands.
type Runner interface {
	Run(ctx context.Context, c process.Command) (process.Result, error)
}

// Config configures a Cache.
type Config struct {
	// Root is the directory holding checkouts, temporary clones and locks.
	Root  string
	Index Index
	// Runner executes git. Nil uses a process.Runner.
	Runner Runner
	// GitBinary defaults to DefaultGitBinary.
	GitBinary string
	// GitTimeout defaults to DefaultGitTimeout.
	GitTimeout time.Duration
	// TTL defaults to DefaultTTL.
	TTL         time.Duration
	Credentials CredentialProvider
	Logger      *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Cache resolves repository references to local checkouts. It is safe for
// concurrent use.
type Cache struct {
	root        string
	index       Index
	runner      Runner
	gitBinary   string
	gitTimeout  time.Duration
	ttl         time.Duration
	credentials CredentialProvider
	log         *slog.Logger
}

// New returns a Cache for cfg. It performs no I/O; the root directory is
// created on first use.
//
// Panics if Root is empty or Index is nil.
func New(cfg Config) *Cache {
	if cfg.Root == "" {
		panic("labrunner: repocache root must not be empty")
	}
	if cfg.Index == nil {
		panic("labrunner: repocache index must not be nil")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		panic(fmt.Sprintf("labrunner: repocache root %q: %v", cfg.Root, err))
	}

	c := &Cache{
		root:        root,
		index:       cfg.Index,
		runner:      cfg.Runner,
		gitBinary:   cfg.GitBinary,
		gitTimeout:  cfg.GitTimeout,
		ttl:         cfg.TTL,
		credentials: cfg.Credentials,
		log:         cfg.logger(),
	}
	if c.runner == nil {
		c.runner = process.NewRunner(process.Config{Logger: c.log})
	}
	if c.gitBinary == "" {
		c.gitBinary = DefaultGitBinary
	}
	if c.gitTimeout <= 0 {
		c.gitTimeout = DefaultGitTimeout
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	return c
}

// Root returns the absolute cache root.
func (c *Cache) Root() string {
	return c.root
}

// maxResolveAttempts bounds how often Resolve refreshes a checkout that
// disappeared before it could be leased for reading.
const maxResolveAttempts = 3

// Resolve returns the absolute path of an up-to-date checkout of source at
// revision, cloning or pulling as needed. The checkout stays leased for
// reading until release is called: no clone, pull or delete of the same
// key runs in the meantime. release is safe to call more than once.
func (c *Cache) Resolve(ctx context.Context, source, revision string) (dir string, release func(), err error) {
	if err := validateReference(source, revision); err != nil {
		return "", nil, err
	}

	name := DirName(source, revision)
	key := Key(source, revision)
	target := filepath.Join(c.root, name)
	log := c.log.With("source", RedactURL(source), "revision", revision)

	for attempt := 1; ; attempt++ {
		if err := c.refresh(ctx, log, name, key, target, source, revision); err != nil {
			return "", nil, err
		}

		// A writer may slip in between the exclusive and the shared lease;
		// it always leaves a complete checkout or none.
		shared, err := acquireSharedLease(ctx, c.root, name)
		if err != nil {
			return "", nil, fmt.Errorf("acquire read lease for %s: %w", name, err)
		}
		if isCheckout(target) {
			return target, releaseFunc(log, shared), nil
		}
		releaseLease(log, shared)

		if attempt == maxResolveAttempts {
			return "", nil, fmt.Errorf("%w: %s@%s: checkout removed before it could be leased",
				ErrCloneFailure, RedactURL(source), revision)
		}
		log.Debug("checkout removed before it could be leased, refreshing again", "dir", target)
	}
}

// refresh brings target up to date under the exclusive lease for name.
func (c *Cache) refresh(ctx context.Context, log *slog.Logger, name, key, target, source, revision string) error {
	lease, err := acquireLease(ctx, c.root, name)
	if err != nil {
		return fmt.Errorf("acquire lease for %s: %w", name, err)
	}
	defer releaseLease(log, lease)

	cached, found, err := c.index.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	if found {
		switch {
		case cached != target:
			log.Warn("index entry points outside the expected checkout, recloning",
				"indexed", cached, "dir", target)
		case !isCheckout(target):
			log.Info("indexed checkout is missing, recloning", "dir", target)
		default:
			pullErr := c.pull(ctx, target, source, revision)
			if pullErr == nil {
				if err := c.index.Set(ctx, key, target, c.ttl); err != nil {
					return fmt.Errorf("%w: refresh %s: %w", ErrCacheUnavailable, key, err)
				}
				log.Debug("repository updated", "dir", target)
				return nil
			}
			if ctx.Err() != nil {
				return fmt.Errorf("pull %s: %w", name, ctx.Err())
			}
			log.Warn("pull failed, recloning", "dir", target, "error", pullErr)
		}

		if err := c.index.Delete(ctx, key); err != nil {
			return fmt.Errorf("%w: delete %s: %w", ErrCacheUnavailable, key, err)
		}
	}

	start := time.Now()
	if err := c.clone(ctx, target, name, source, revision); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("clone %s: %w", name, ctx.Err())
		}
		return fmt.Errorf("%w: %s@%s: %w", ErrCloneFailure, RedactURL(source), revision, err)
	}

	if err := c.index.Set(ctx, key, target, c.ttl); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrCacheUnavailable, key, err)
	}

	log.Info("repository cloned", "dir", target, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// validateReference rejects references git could misread as options.
func validateReference(source, revision string) error {
	var errs []error
	if strings.TrimSpace(source) == "" {
		errs = append(errs, errors.New("source must not be empty"))
	} else if strings.HasPrefix(source, "-") {
		errs = append(errs, fmt.Errorf("source must not start with '-': %q", source))
	}
	if strings.TrimSpace(revision) == "" {
		errs = append(errs, errors.New("revision must not be empty"))
	} else if strings.HasPrefix(revision, "-") || strings.ContainsAny(revision, " \t\r\n") {
		errs = append(errs, fmt.Errorf("revision is not a valid ref name: %q", revision))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidReference, errors.Join(errs...))
	}
	return nil
}
