package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Runtime owns the playwright driver process and launches local browsers
type Runtime struct {
	pw     *playwright.Playwright
	logger *zap.Logger
}

// Install downloads the playwright driver and the given browsers (all if none).
func Install(browsers ...models.Engine) error {
	opts := &playwright.RunOptions{}
	for _, b := range browsers {
		opts.Browsers = append(opts.Browsers, string(b))
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("could not install playwright: %w", err)
	}
	return nil
}

// Start runs the playwright driver
func Start(logger *zap.Logger) (*Runtime, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start playwright: %v", models.ErrResource, err)
	}
	return &Runtime{pw: pw, logger: logger.Named("playwright")}, nil
}

func (r *Runtime) browserType(engine models.Engine) (playwright.BrowserType, error) {
	switch engine {
	case models.EngineChromium:
		return r.pw.Chromium, nil
	case models.EngineFirefox:
		return r.pw.Firefox, nil
	case models.EngineWebKit:
		return r.pw.WebKit, nil
	default:
		return nil, fmt.Errorf("%w: unsupported browser: %s", models.ErrConfiguration, engine)
	}
}

// Launch starts a local browser process
func (r *Runtime) Launch(ctx context.Context, engine models.Engine, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: launch %s: %v", models.ErrResource, engine, err)
	}

	bt, err := r.browserType(engine)
	if err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
		Timeout:  millis(opts.Timeout),
		SlowMo:   millis(opts.SlowMo),
	}
	if opts.Channel != "" {
		launchOpts.Channel = playwright.String(opts.Channel)
	}

	r.logger.Info("launching browser", zap.String("engine", string(engine)), zap.Bool("headless", opts.Headless))
	b, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to launch %s: %v", models.ErrResource, engine, err)
	}
	return WrapBrowser(b, engine), nil
}

// ConnectOverCDP attaches to a Chromium already listening on endpoint
func (r *Runtime) ConnectOverCDP(ctx context.Context, endpoint string, timeout time.Duration) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", models.ErrResource, endpoint, err)
	}

	r.logger.Info("connecting over CDP", zap.String("endpoint", endpoint))
	b, err := r.pw.Chromium.ConnectOverCDP(endpoint, playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: millis(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", models.ErrResource, endpoint, err)
	}
	return WrapBrowser(b, models.EngineChromium), nil
}

// Close stops the playwright driver
func (r *Runtime) Close() error {
	return r.pw.Stop()
}

// WrapBrowser adapts a playwright browser to Browser
func WrapBrowser(b playwright.Browser, engine models.Engine) Browser {
	return &pwBrowser{id: uuid.New().String(), engine: engine, b: b}
}

type pwBrowser struct {
	id     string
	engine models.Engine
	b      playwright.Browser
}

func (b *pwBrowser) ID() string            { return b.id }
func (b *pwBrowser) Engine() models.Engine { return b.engine }
func (b *pwBrowser) IsConnected() bool     { return b.b.IsConnected() }
func (b *pwBrowser) Close() error          { return b.b.Close() }

func (b *pwBrowser) NewContext(opts playwright.BrowserNewContextOptions) (BrowserContext, error) {
	c, err := b.b.NewContext(opts)
	if err != nil {
		return nil, err
	}
	return &pwContext{id: uuid.New().String(), c: c}, nil
}

type pwContext struct {
	id string
	c  playwright.BrowserContext
}

func (c *pwContext) ID() string { return c.id }

func (c *pwContext) StartTracing(opts playwright.TracingStartOptions) error {
	return c.c.Tracing().Start(opts)
}

func (c *pwContext) StopTracing(path string) error {
	if path == "" {
		return c.c.Tracing().Stop()
	}
	return c.c.Tracing().Stop(path)
}

func (c *pwContext) NewPage() (Page, error) {
	p, err := c.c.NewPage()
	if err != nil {
		return nil, err
	}
	return &pwPage{p: p}, nil
}

func (c *pwContext) SaveStorageState(path string) error {
	_, err := c.c.StorageState(path)
	return err
}

func (c *pwContext) Close() error { return c.c.Close() }

type pwPage struct {
	p playwright.Page
}

func (p *pwPage) Playwright() playwright.Page { return p.p }
func (p *pwPage) URL() string                 { return p.p.URL() }
func (p *pwPage) Close() error                { return p.p.Close() }

func (p *pwPage) SetTimeouts(navigation, action time.Duration) {
	if ms := millis(navigation); ms != nil {
		p.p.SetDefaultNavigationTimeout(*ms)
	}
	if ms := millis(action); ms != nil {
		p.p.SetDefaultTimeout(*ms)
	}
}

func (p *pwPage) Goto(url string) error {
	_, err := p.p.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *pwPage) Screenshot(path string) error {
	_, err := p.p.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

func (p *pwPage) Post(url string, opts playwright.APIRequestContextPostOptions) (Response, error) {
	return p.p.Request().Post(url, opts)
}
