package fixture

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/internal/artifact"
	"github.com/shehryarbajwa/listing-harness/internal/auth"
	"github.com/shehryarbajwa/listing-harness/internal/browser"
	ctxmgr "github.com/shehryarbajwa/listing-harness/internal/context"
	"github.com/shehryarbajwa/listing-harness/internal/directive"
	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// CredentialResolver looks up a named account
type CredentialResolver interface {
	Resolve(accountID string) (models.CredentialRecord, error)
}

// Authenticator logs an account in through a page
type Authenticator interface {
	Login(ctx context.Context, page driver.Page, cred models.CredentialRecord) (auth.Session, error)
}

// Options are the run-wide defaults a scenario's tags can override
type Options struct {
	Browser  models.Engine
	Platform models.Platform
	// AndroidDevice names the Android profile; AndroidSerial, when set,
	// attaches to a real device instead of emulating one.
	AndroidDevice string
	AndroidSerial string

	Launch         driver.LaunchOptions
	ReuseBrowser   bool
	ReuseAuthState bool

	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// Lifecycle creates and tears down scenario fixtures
type Lifecycle struct {
	opts        Options
	pool        *browser.Pool
	contexts    *ctxmgr.Manager
	credentials CredentialResolver
	auth        Authenticator
	recorder    *artifact.Recorder
	logger      *zap.Logger
}

func NewLifecycle(
	opts Options,
	pool *browser.Pool,
	contexts *ctxmgr.Manager,
	credentials CredentialResolver,
	authenticator Authenticator,
	recorder *artifact.Recorder,
	logger *zap.Logger,
) *Lifecycle {
	if opts.Browser == "" {
		opts.Browser = models.EngineChromium
	}
	if opts.Platform == "" {
		opts.Platform = models.PlatformDesktop
	}
	return &Lifecycle{
		opts:        opts,
		pool:        pool,
		contexts:    contexts,
		credentials: credentials,
		auth:        authenticator,
		recorder:    recorder,
		logger:      logger.Named("fixture"),
	}
}

// Start builds the fixtures a scenario's tags ask for. On error the partially
// built ScenarioContext is still returned and must be passed to Finish.
func (l *Lifecycle) Start(ctx context.Context, name string, tags []string) (*ScenarioContext, error) {
	sc := newScenario(name, tags)
	log := l.logger.With(zap.String("scenario", name), zap.String("id", sc.ID))

	d, err := directive.Parse(tags)
	if err != nil {
		return sc, err
	}
	sc.Directive = d
	sc.Platform = l.opts.Platform
	if d.Android {
		sc.Platform = models.PlatformAndroid
	}
	sc.Engine = l.resolveEngine(d, sc.Platform, log)
	sc.Device = d.Device
	if sc.Device == "" {
		sc.Device = models.DeviceDesktop
	}

	if !d.NeedsBrowser() {
		log.Debug("scenario needs no browser")
		return sc, sc.advance(models.StateActive)
	}

	if err := l.acquire(ctx, sc); err != nil {
		return sc, err
	}
	if err := l.openContext(ctx, sc); err != nil {
		return sc, err
	}
	if err := l.openPage(ctx, sc); err != nil {
		return sc, err
	}
	if d.AccountID != "" {
		if err := l.authenticate(ctx, sc); err != nil {
			return sc, err
		}
	}

	log.Info("scenario ready",
		zap.String("engine", string(sc.Engine)),
		zap.String("device", string(sc.Device)),
		zap.String("platform", string(sc.Platform)),
		zap.Bool("authenticated", sc.Authenticated()))
	return sc, sc.advance(models.StateActive)
}

func (l *Lifecycle) resolveEngine(d models.Directive, platform models.Platform, log *zap.Logger) models.Engine {
	if platform == models.PlatformAndroid {
		if d.Engine != "" && d.Engine != models.EngineChromium {
			log.Warn("android runs chromium only, ignoring browser tag", zap.String("browser", string(d.Engine)))
		}
		return models.EngineChromium
	}
	if d.Engine != "" {
		return d.Engine
	}
	return l.opts.Browser
}

func stageErr(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrResource, stage, err)
	}
	return nil
}

func (l *Lifecycle) acquire(ctx context.Context, sc *ScenarioContext) error {
	if err := stageErr(ctx, "acquire browser"); err != nil {
		return err
	}

	opts := l.opts.Launch
	if sc.Platform == models.PlatformAndroid && l.opts.AndroidSerial != "" {
		opts.Target = driver.TargetAndroid
	}
	if sc.Engine == models.EngineChromium && !opts.Headless && opts.Target != driver.TargetAndroid {
		opts.Args = append(slices.Clone(opts.Args), "--start-maximized")
	}

	b, err := l.pool.Acquire(ctx, sc.Engine, opts, l.opts.ReuseBrowser)
	if err != nil {
		return err
	}
	sc.Browser = b
	sc.shared = l.opts.ReuseBrowser
	return sc.advance(models.StateResourceAcquired)
}

func (l *Lifecycle) openContext(ctx context.Context, sc *ScenarioContext) error {
	if err := stageErr(ctx, "create context"); err != nil {
		return err
	}

	var overrides ctxmgr.Overrides
	if id := sc.Directive.AccountID; id != "" && l.opts.ReuseAuthState && l.contexts.HasAuthState(id) {
		path := l.contexts.AuthStatePath(id)
		overrides.StorageStatePath = &path
	}

	var (
		c   driver.BrowserContext
		err error
	)
	if sc.Platform == models.PlatformAndroid {
		var profile models.DeviceProfile
		profile, err = ctxmgr.AndroidProfile(l.opts.AndroidDevice)
		if err != nil {
			return err
		}
		sc.Device = models.Device(profile.Name)
		c, err = l.contexts.CreateForProfile(sc.Browser, profile, overrides)
	} else {
		c, err = l.contexts.CreateForDevice(sc.Browser, sc.Device, overrides)
	}
	if c != nil {
		sc.Context = c
	}
	if err != nil {
		return err
	}
	return sc.advance(models.StateContextReady)
}

func (l *Lifecycle) openPage(ctx context.Context, sc *ScenarioContext) error {
	if err := stageErr(ctx, "open page"); err != nil {
		return err
	}

	page, err := l.contexts.CreatePage(sc.Context)
	if err != nil {
		return err
	}
	page.SetTimeouts(l.opts.NavigationTimeout, l.opts.ActionTimeout)
	sc.Page = page
	return sc.advance(models.StatePageReady)
}

func (l *Lifecycle) authenticate(ctx context.Context, sc *ScenarioContext) error {
	if err := stageErr(ctx, "authenticate"); err != nil {
		return err
	}

	id := sc.Directive.AccountID
	cred, err := l.credentials.Resolve(id)
	if err != nil {
		return err
	}
	cred.AccountID = id

	session, err := l.auth.Login(ctx, sc.Page, cred)
	if err != nil {
		return err
	}
	sc.Account = &cred
	sc.SessionID = session.UserID
	if sc.SessionID == "" {
		l.logger.Warn("authenticated without a session id", zap.String("account", id), zap.String("scenario", sc.Name))
	}

	if l.opts.ReuseAuthState {
		if err := l.contexts.SaveAuthState(sc.Context, l.contexts.AuthStatePath(id)); err != nil {
			l.logger.Warn("failed to persist auth state", zap.String("account", id), zap.Error(err))
		}
	}
	return sc.advance(models.StateAuthenticated)
}

// Finish captures artifacts and releases the scenario's resources. It runs at
// most once per scenario; later calls return the first result. Artifact
// failures are logged, release failures are returned.
func (l *Lifecycle) Finish(sc *ScenarioContext, outcome models.Outcome) error {
	if sc == nil {
		return nil
	}
	sc.teardown.Do(func() {
		sc.teardownErr = l.teardown(sc, outcome)
	})
	return sc.teardownErr
}

func (l *Lifecycle) teardown(sc *ScenarioContext, outcome models.Outcome) error {
	log := l.logger.With(zap.String("scenario", sc.Name), zap.String("id", sc.ID), zap.String("outcome", string(outcome)))
	if err := sc.advance(models.StateTearingDown); err != nil {
		log.Warn("unexpected teardown state", zap.Error(err))
	}

	var errs []error

	if sc.Page != nil {
		if path, err := l.recorder.CaptureScreenshot(sc.Page, sc.Name, outcome); err == nil {
			sc.ScreenshotPath = path
		}
	}

	if sc.Context != nil {
		if path, err := l.recorder.FinishTrace(l.contexts, sc.Context, sc.Name, outcome); err == nil {
			sc.TracePath = path
		}
		if err := l.contexts.Close(sc.Context); err != nil {
			errs = append(errs, err)
		}
	}

	if sc.Browser != nil && !sc.shared {
		if err := l.pool.Release(sc.Browser); err != nil {
			errs = append(errs, err)
		}
	}

	if err := sc.advance(models.StateClosed); err != nil {
		log.Warn("unexpected teardown state", zap.Error(err))
	}
	log.Debug("scenario closed")
	return errors.Join(errs...)
}
