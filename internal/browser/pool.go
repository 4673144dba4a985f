package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Pool launches browsers and caches the ones requested for reuse
type Pool struct {
	launcher driver.Launcher
	logger   *zap.Logger

	mu        sync.Mutex
	instances map[string]driver.Browser // fingerprint -> shared browser
	launches  singleflight.Group        // one launch per fingerprint at a time

	max    int64
	slots  *semaphore.Weighted // nil when unbounded
	liveMu sync.Mutex
	live   map[string]bool // browser ID -> shared, for every open browser
}

type PoolOptions struct {
	// MaxInstances bounds the number of live browsers. Zero means unbounded.
	MaxInstances int64
}

func NewPool(launcher driver.Launcher, logger *zap.Logger, opts PoolOptions) *Pool {
	p := &Pool{
		launcher:  launcher,
		logger:    logger.Named("pool"),
		instances: make(map[string]driver.Browser),
		live:      make(map[string]bool),
	}
	if opts.MaxInstances > 0 {
		p.max = opts.MaxInstances
		p.slots = semaphore.NewWeighted(opts.MaxInstances)
	}
	return p
}

// Fingerprint returns the cache key for an engine and launch options
func Fingerprint(engine models.Engine, opts driver.LaunchOptions) string {
	normalized, _ := json.Marshal(opts.Normalize())
	return fmt.Sprintf("%s|%s", engine, normalized)
}

// Acquire returns a browser for engine and opts. With reuse, a connected cached
// instance under the same fingerprint is returned; a disconnected one is evicted
// and relaunched. Without reuse a fresh, uncached instance is launched.
// The pool lock is never held while launching or waiting for a slot.
func (p *Pool) Acquire(ctx context.Context, engine models.Engine, opts driver.LaunchOptions, reuse bool) (driver.Browser, error) {
	opts = opts.Normalize()
	if !reuse {
		return p.launch(ctx, engine, opts, false)
	}

	key := Fingerprint(engine, opts)
	if b := p.cached(key); b != nil {
		return b, nil
	}

	v, err, _ := p.launches.Do(key, func() (interface{}, error) {
		if b := p.cached(key); b != nil {
			return b, nil
		}
		b, err := p.launch(ctx, engine, opts, true)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.instances[key] = b
		p.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(driver.Browser), nil
}

// cached returns the connected browser under key, evicting a disconnected one
func (p *Pool) cached(key string) driver.Browser {
	p.mu.Lock()
	existing, ok := p.instances[key]
	if ok && existing.IsConnected() {
		p.mu.Unlock()
		p.logger.Debug("reusing browser", zap.String("browser", existing.ID()))
		return existing
	}
	if ok {
		delete(p.instances, key)
	}
	p.mu.Unlock()

	if ok {
		p.logger.Warn("evicting disconnected browser", zap.String("browser", existing.ID()))
		if err := p.closeBrowser(existing); err != nil {
			p.logger.Warn("failed to clean up evicted browser", zap.String("browser", existing.ID()), zap.Error(err))
		}
	}
	return nil
}

func (p *Pool) launch(ctx context.Context, engine models.Engine, opts driver.LaunchOptions, shared bool) (driver.Browser, error) {
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}

	b, err := p.launcher.Launch(ctx, engine, opts)
	if err != nil {
		if p.slots != nil {
			p.slots.Release(1)
		}
		return nil, fmt.Errorf("%w: failed to launch %s: %v", models.ErrResource, engine, err)
	}

	p.liveMu.Lock()
	p.live[b.ID()] = shared
	p.liveMu.Unlock()

	p.logger.Info("browser launched",
		zap.String("engine", string(engine)),
		zap.String("target", string(opts.Target)),
		zap.Bool("shared", shared),
		zap.String("browser", b.ID()))
	return b, nil
}

// acquireSlot takes a launch slot. Slots held by shared browsers only come
// back at ReleaseAll, so when they fill the cap waiting would never end.
func (p *Pool) acquireSlot(ctx context.Context) error {
	if p.slots == nil || p.slots.TryAcquire(1) {
		return nil
	}
	if shared := p.sharedCount(); int64(shared) >= p.max {
		return fmt.Errorf("%w: all %d browser slots are held by shared browsers; raise MAX_BROWSERS or disable REUSE_BROWSER", models.ErrResource, p.max)
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for a browser slot: %v", models.ErrResource, err)
	}
	return nil
}

func (p *Pool) sharedCount() int {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	return lo.CountBy(lo.Values(p.live), func(shared bool) bool { return shared })
}

// Release closes b and drops it from the cache. Releasing a browser twice,
// or one the pool did not launch, is a no-op.
func (p *Pool) Release(b driver.Browser) error {
	if b == nil {
		return nil
	}

	p.mu.Lock()
	for key, cached := range p.instances {
		if cached.ID() == b.ID() {
			delete(p.instances, key)
		}
	}
	p.mu.Unlock()

	return p.closeBrowser(b)
}

// ReleaseAll closes every cached browser and clears the cache
func (p *Pool) ReleaseAll() error {
	p.mu.Lock()
	browsers := lo.Values(p.instances)
	p.instances = make(map[string]driver.Browser)
	p.mu.Unlock()

	p.logger.Info("closing cached browsers", zap.Int("count", len(browsers)))

	var g errgroup.Group
	for _, b := range browsers {
		g.Go(func() error {
			return p.closeBrowser(b)
		})
	}
	return g.Wait()
}

// Len returns the number of cached browsers
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}

// closeBrowser closes b exactly once. Close runs even when the connection is
// already gone so wrapped browsers still stop their container or adb forward.
func (p *Pool) closeBrowser(b driver.Browser) error {
	p.liveMu.Lock()
	_, open := p.live[b.ID()]
	delete(p.live, b.ID())
	p.liveMu.Unlock()
	if !open {
		return nil
	}

	connected := b.IsConnected()
	err := b.Close()
	if p.slots != nil {
		p.slots.Release(1)
	}

	if err != nil {
		if !connected {
			p.logger.Debug("close after disconnect", zap.String("browser", b.ID()), zap.Error(err))
			return nil
		}
		return fmt.Errorf("%w: failed to close browser %s: %v", models.ErrResource, b.ID(), err)
	}
	p.logger.Info("browser closed", zap.String("browser", b.ID()))
	return nil
}
