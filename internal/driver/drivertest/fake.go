// Package drivertest provides in-memory driver implementations for tests.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Launcher records every launch and returns a fresh Browser
type Launcher struct {
	mu       sync.Mutex
	Err      error
	launched []*Browser
	options  []driver.LaunchOptions
}

func (l *Launcher) Launch(ctx context.Context, engine models.Engine, opts driver.LaunchOptions) (driver.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	b := NewBrowser(engine)
	l.launched = append(l.launched, b)
	l.options = append(l.options, opts)
	return b, nil
}

// Launched returns the browsers launched so far
func (l *Launcher) Launched() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.launched...)
}

// Options returns the options passed to each launch
func (l *Launcher) Options() []driver.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]driver.LaunchOptions(nil), l.options...)
}

// Browser is a fake engine instance
type Browser struct {
	id     string
	engine models.Engine

	mu            sync.Mutex
	connected     bool
	closeCalls    int
	contexts      []*Context
	NewContextErr error
}

func NewBrowser(engine models.Engine) *Browser {
	return &Browser{id: uuid.New().String(), engine: engine, connected: true}
}

func (b *Browser) ID() string            { return b.id }
func (b *Browser) Engine() models.Engine { return b.engine }

func (b *Browser) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Disconnect simulates a crashed engine.
func (b *Browser) Disconnect() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCalls++
	b.connected = false
	return nil
}

// CloseCalls counts Close invocations
func (b *Browser) CloseCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCalls
}

func (b *Browser) NewContext(opts playwright.BrowserNewContextOptions) (driver.BrowserContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NewContextErr != nil {
		return nil, b.NewContextErr
	}
	if !b.connected {
		return nil, errors.New("browser has been closed")
	}
	c := &Context{id: uuid.New().String(), Options: opts}
	b.contexts = append(b.contexts, c)
	return c, nil
}

// Contexts returns contexts created on the browser
func (b *Browser) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Context(nil), b.contexts...)
}

// Context is a fake browsing context
type Context struct {
	id      string
	Options playwright.BrowserNewContextOptions

	mu            sync.Mutex
	tracingStarts []playwright.TracingStartOptions
	traceStops    []string
	pages         []*Page
	closeCalls    int
	savedStates   []string
	// Events lists calls in order: "trace:start", "page", "trace:stop", "close", ...
	events []string

	StopTracingErr error
	NewPageErr     error
	// Post answers page requests. Defaults to a 200 with an empty JSON body.
	Post func(url string, opts playwright.APIRequestContextPostOptions) (driver.Response, error)
}

func (c *Context) ID() string { return c.id }

func (c *Context) record(event string) {
	c.events = append(c.events, event)
}

func (c *Context) StartTracing(opts playwright.TracingStartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracingStarts = append(c.tracingStarts, opts)
	c.record("trace:start")
	return nil
}

func (c *Context) StopTracing(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("trace:stop")
	if c.StopTracingErr != nil {
		return c.StopTracingErr
	}
	c.traceStops = append(c.traceStops, path)
	if path != "" {
		return writeFile(path, []byte("trace"))
	}
	return nil
}

func (c *Context) NewPage() (driver.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NewPageErr != nil {
		return nil, c.NewPageErr
	}
	p := &Page{ctx: c}
	c.pages = append(c.pages, p)
	c.record("page")
	return p, nil
}

func (c *Context) SaveStorageState(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.savedStates = append(c.savedStates, path)
	return writeFile(path, []byte(`{"cookies":[],"origins":[]}`))
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	c.record("close")
	return nil
}

// TracingStarts returns the options of each StartTracing call
func (c *Context) TracingStarts() []playwright.TracingStartOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]playwright.TracingStartOptions(nil), c.tracingStarts...)
}

// TraceStops returns the path of each successful StopTracing call
func (c *Context) TraceStops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.traceStops...)
}

func (c *Context) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Page(nil), c.pages...)
}

func (c *Context) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func (c *Context) SavedStates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.savedStates...)
}

func (c *Context) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

// Page is a fake tab
type Page struct {
	ctx *Context

	mu          sync.Mutex
	url         string
	screenshots []string
	closeCalls  int
	navigation  time.Duration
	action      time.Duration

	ScreenshotErr error
}

func (p *Page) Playwright() playwright.Page { return nil }

func (p *Page) SetTimeouts(navigation, action time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigation, p.action = navigation, action
}

// Timeouts returns the navigation and action timeouts last set
func (p *Page) Timeouts() (time.Duration, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigation, p.action
}

func (p *Page) Goto(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Screenshot(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return p.ScreenshotErr
	}
	p.screenshots = append(p.screenshots, path)
	return writeFile(path, []byte("png"))
}

func (p *Page) Screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.screenshots...)
}

func (p *Page) Post(url string, opts playwright.APIRequestContextPostOptions) (driver.Response, error) {
	p.ctx.mu.Lock()
	post := p.ctx.Post
	p.ctx.mu.Unlock()

	if post == nil {
		return &Response{StatusCode: 200, Payload: []byte(`{}`)}, nil
	}
	return post(url, opts)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	return nil
}

// Response is a canned API response
type Response struct {
	StatusCode int
	Payload    []byte
}

func (r *Response) Ok() bool              { return r.StatusCode >= 200 && r.StatusCode < 300 }
func (r *Response) Status() int           { return r.StatusCode }
func (r *Response) Body() ([]byte, error) { return r.Payload, nil }

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}
