package ctxmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Options configure every context the manager creates
type Options struct {
	// Tracing starts a trace with screenshots and DOM snapshots on each new context.
	Tracing           bool
	IgnoreHTTPSErrors bool
	BaseURL           string
	// AuthStateDir holds persisted storage state, one JSON file per account.
	AuthStateDir string
}

// Overrides are explicit context settings that win over the device profile
type Overrides struct {
	Viewport          *models.Viewport
	Maximized         *bool
	UserAgent         *string
	IsMobile          *bool
	HasTouch          *bool
	DeviceScaleFactor *float64
	Locale            *string
	Permissions       []string
	Geolocation       *playwright.Geolocation
	StorageStatePath  *string
}

type entry struct {
	ctx     driver.BrowserContext
	mu      sync.Mutex
	tracing bool
}

// Manager creates and tracks browsing contexts
type Manager struct {
	contexts sync.Map // contextID -> *entry
	opts     Options
	logger   *zap.Logger
}

func NewManager(opts Options, logger *zap.Logger) *Manager {
	return &Manager{
		opts:   opts,
		logger: logger.Named("contexts"),
	}
}

// CreateForDevice creates a context for a named device profile
func (m *Manager) CreateForDevice(b driver.Browser, device models.Device, overrides Overrides) (driver.BrowserContext, error) {
	if device == "" {
		device = models.DeviceDesktop
	}
	profile, err := Profile(device)
	if err != nil {
		return nil, err
	}
	return m.CreateForProfile(b, profile, overrides)
}

// CreateWithAuth creates a device context preloaded with saved storage state
func (m *Manager) CreateWithAuth(b driver.Browser, device models.Device, storageStatePath string, overrides Overrides) (driver.BrowserContext, error) {
	m.logger.Info("creating authenticated context", zap.String("storageState", storageStatePath))
	overrides.StorageStatePath = &storageStatePath
	return m.CreateForDevice(b, device, overrides)
}

// CreateForProfile creates a context from profile merged with overrides.
// Tracing, when enabled, starts before any page exists.
func (m *Manager) CreateForProfile(b driver.Browser, profile models.DeviceProfile, overrides Overrides) (driver.BrowserContext, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: no browser to create a context on", models.ErrResource)
	}

	opts := m.contextOptions(profile, overrides)
	c, err := b.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create %s context: %v", models.ErrResource, profile.Name, err)
	}

	e := &entry{ctx: c}
	m.contexts.Store(c.ID(), e)
	m.logger.Info("context created", zap.String("context", c.ID()), zap.String("device", profile.Name))

	if m.opts.Tracing {
		if err := c.StartTracing(playwright.TracingStartOptions{
			Screenshots: playwright.Bool(true),
			Snapshots:   playwright.Bool(true),
		}); err != nil {
			return c, fmt.Errorf("%w: failed to start tracing: %v", models.ErrResource, err)
		}
		e.tracing = true
		m.logger.Debug("tracing started", zap.String("context", c.ID()))
	}

	return c, nil
}

func (m *Manager) contextOptions(profile models.DeviceProfile, o Overrides) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(m.opts.IgnoreHTTPSErrors),
		IsMobile:          playwright.Bool(profile.IsMobile),
		HasTouch:          playwright.Bool(profile.HasTouch),
	}
	if m.opts.BaseURL != "" {
		opts.BaseURL = playwright.String(m.opts.BaseURL)
	}

	viewport, maximized := profile.Viewport, profile.Maximized()
	if o.Viewport != nil {
		viewport, maximized = o.Viewport, false
	}
	if o.Maximized != nil && *o.Maximized {
		viewport, maximized = nil, true
	}
	if maximized {
		opts.NoViewport = playwright.Bool(true)
	} else {
		opts.Viewport = &playwright.Size{Width: viewport.Width, Height: viewport.Height}
	}

	if profile.UserAgent != "" {
		opts.UserAgent = playwright.String(profile.UserAgent)
	}
	if profile.DeviceScaleFactor > 0 {
		opts.DeviceScaleFactor = playwright.Float(profile.DeviceScaleFactor)
	}

	if o.UserAgent != nil {
		opts.UserAgent = o.UserAgent
	}
	if o.IsMobile != nil {
		opts.IsMobile = o.IsMobile
	}
	if o.HasTouch != nil {
		opts.HasTouch = o.HasTouch
	}
	if o.DeviceScaleFactor != nil {
		opts.DeviceScaleFactor = o.DeviceScaleFactor
	}
	if o.Locale != nil {
		opts.Locale = o.Locale
	}
	if len(o.Permissions) > 0 {
		opts.Permissions = o.Permissions
	}
	if o.Geolocation != nil {
		opts.Geolocation = o.Geolocation
	}
	if o.StorageStatePath != nil {
		opts.StorageStatePath = o.StorageStatePath
	}
	return opts
}

// CreatePage opens a page in c
func (m *Manager) CreatePage(c driver.BrowserContext) (driver.Page, error) {
	page, err := c.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open page: %v", models.ErrResource, err)
	}
	m.logger.Debug("page created", zap.String("context", c.ID()))
	return page, nil
}

// StopTracing flushes the trace to path, or discards it when path is empty.
// It is a no-op if tracing is not running on c.
func (m *Manager) StopTracing(c driver.BrowserContext, path string) error {
	value, ok := m.contexts.Load(c.ID())
	if !ok {
		return nil
	}
	e := value.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tracing {
		return nil
	}
	e.tracing = false

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("%w: failed to create trace directory: %v", models.ErrArtifact, err)
		}
	}
	if err := c.StopTracing(path); err != nil {
		return fmt.Errorf("%w: failed to stop tracing: %v", models.ErrArtifact, err)
	}
	if path != "" {
		m.logger.Info("trace saved", zap.String("path", path))
	}
	return nil
}

// Tracing reports whether a trace is running on c
func (m *Manager) Tracing(c driver.BrowserContext) bool {
	value, ok := m.contexts.Load(c.ID())
	if !ok {
		return false
	}
	e := value.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracing
}

// SaveAuthState persists cookies and local storage of c to path
func (m *Manager) SaveAuthState(c driver.BrowserContext, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create auth state directory: %w", err)
	}
	if err := c.SaveStorageState(path); err != nil {
		return fmt.Errorf("failed to save auth state: %w", err)
	}
	m.logger.Info("auth state saved", zap.String("path", path))
	return nil
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// AuthStatePath returns where accountID's storage state lives
func (m *Manager) AuthStatePath(accountID string) string {
	return filepath.Join(m.opts.AuthStateDir, unsafeName.ReplaceAllString(accountID, "_")+".json")
}

// HasAuthState reports whether saved storage state exists for accountID
func (m *Manager) HasAuthState(accountID string) bool {
	if m.opts.AuthStateDir == "" {
		return false
	}
	info, err := os.Stat(m.AuthStatePath(accountID))
	return err == nil && !info.IsDir()
}

// Close closes c once. Closing an unknown or already closed context is a no-op.
func (m *Manager) Close(c driver.BrowserContext) error {
	if c == nil {
		return nil
	}
	if _, loaded := m.contexts.LoadAndDelete(c.ID()); !loaded {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("%w: failed to close context %s: %v", models.ErrResource, c.ID(), err)
	}
	m.logger.Debug("context closed", zap.String("context", c.ID()))
	return nil
}

// Len returns the number of open contexts
func (m *Manager) Len() int {
	n := 0
	m.contexts.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
