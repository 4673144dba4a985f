// Package driver defines the browser-automation contract the fixture layer
// depends on, and the playwright-go implementation of it.
package driver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/samber/lo"

	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Target says where a browser process runs
type Target string

const (
	TargetLocal     Target = "local"
	TargetContainer Target = "container"
	TargetAndroid   Target = "android"
)

// LaunchOptions configure a browser launch. Every field except Timeout is part
// of the pool fingerprint.
type LaunchOptions struct {
	Target   Target        `json:"target"`
	Headless bool          `json:"headless"`
	Args     []string      `json:"args,omitempty"`
	Channel  string        `json:"channel,omitempty"`
	SlowMo   time.Duration `json:"slowMo,omitempty"`
	Timeout  time.Duration `json:"-"`
}

// Normalize returns a copy with sorted, deduplicated args and a default target.
func (o LaunchOptions) Normalize() LaunchOptions {
	if o.Target == "" {
		o.Target = TargetLocal
	}
	args := lo.Uniq(lo.Compact(o.Args))
	sort.Strings(args)
	if len(args) == 0 {
		args = nil
	}
	o.Args = args
	return o
}

// Launcher starts browser processes
type Launcher interface {
	Launch(ctx context.Context, engine models.Engine, opts LaunchOptions) (Browser, error)
}

// Browser is a running engine instance
type Browser interface {
	ID() string
	Engine() models.Engine
	IsConnected() bool
	NewContext(opts playwright.BrowserNewContextOptions) (BrowserContext, error)
	Close() error
}

// BrowserContext is an isolated cookie/storage session inside a Browser
type BrowserContext interface {
	ID() string
	StartTracing(opts playwright.TracingStartOptions) error
	// StopTracing flushes the trace to path, or discards it when path is empty.
	StopTracing(path string) error
	NewPage() (Page, error)
	// SaveStorageState writes cookies and local storage to path.
	SaveStorageState(path string) error
	Close() error
}

// Page is one tab inside a BrowserContext
type Page interface {
	// Playwright exposes the underlying page to page objects. Fakes return nil.
	Playwright() playwright.Page
	SetTimeouts(navigation, action time.Duration)
	Goto(url string) error
	URL() string
	Screenshot(path string) error
	// Post sends a request through the page's request context so cookies are shared with the browser.
	Post(url string, opts playwright.APIRequestContextPostOptions) (Response, error)
	Close() error
}

// Response is an API response received through a Page
type Response interface {
	Ok() bool
	Status() int
	Body() ([]byte, error)
}

// WithCloseHook returns a Browser that runs hook once after the first Close.
func WithCloseHook(b Browser, hook func() error) Browser {
	return &hookedBrowser{Browser: b, hook: hook}
}

type hookedBrowser struct {
	Browser
	once sync.Once
	hook func() error
}

func (h *hookedBrowser) Close() error {
	err := h.Browser.Close()
	h.once.Do(func() {
		err = errors.Join(err, h.hook())
	})
	return err
}

func millis(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	return playwright.Float(float64(d.Milliseconds()))
}
