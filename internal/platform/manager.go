// Package platform routes browser launches to the launcher that owns the
// requested target.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Manager manages launchers across browser targets. It implements
// driver.Launcher so the pool does not need to know where browsers run.
type Manager struct {
	launchers map[driver.Target]driver.Launcher
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewManager creates a router with the local launcher registered
func NewManager(local driver.Launcher, logger *zap.Logger) *Manager {
	m := &Manager{
		launchers: make(map[driver.Target]driver.Launcher),
		logger:    logger.Named("platform"),
	}
	m.Register(driver.TargetLocal, local)
	return m
}

// Register adds or replaces the launcher for target
func (m *Manager) Register(target driver.Target, launcher driver.Launcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launchers[target] = launcher
}

// GetLauncher returns the launcher for a specific target
func (m *Manager) GetLauncher(target driver.Target) (driver.Launcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	launcher, exists := m.launchers[target]
	if !exists {
		return nil, fmt.Errorf("%w: unsupported browser target: %s", models.ErrConfiguration, target)
	}
	return launcher, nil
}

// Route returns the registered target to use for a request, defaulting to local
func (m *Manager) Route(requested driver.Target) driver.Target {
	m.mu.RLock()
	_, exists := m.launchers[requested]
	m.mu.RUnlock()

	if exists {
		return requested
	}
	return driver.TargetLocal
}

// Launch starts a browser through the launcher registered for opts.Target.
// An empty target means local, an unregistered one is a configuration error.
func (m *Manager) Launch(ctx context.Context, engine models.Engine, opts driver.LaunchOptions) (driver.Browser, error) {
	target := opts.Target
	if target == "" {
		target = driver.TargetLocal
	}

	launcher, err := m.GetLauncher(target)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("routing launch",
		zap.String("target", string(target)),
		zap.String("engine", string(engine)))
	return launcher.Launch(ctx, engine, opts)
}

// Targets returns all registered targets
func (m *Manager) Targets() []driver.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]driver.Target, 0, len(m.launchers))
	for target := range m.launchers {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	return targets
}

// Close closes every launcher that holds resources of its own
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for target, launcher := range m.launchers {
		closer, ok := launcher.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s launcher: %w", target, err))
		}
	}

	return errors.Join(errs...)
}
