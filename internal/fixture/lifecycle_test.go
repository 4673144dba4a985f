package fixture_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/listing-harness/internal/artifact"
	"github.com/shehryarbajwa/listing-harness/internal/auth"
	"github.com/shehryarbajwa/listing-harness/internal/browser"
	ctxmgr "github.com/shehryarbajwa/listing-harness/internal/context"
	"github.com/shehryarbajwa/listing-harness/internal/credentials"
	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/internal/driver/drivertest"
	"github.com/shehryarbajwa/listing-harness/internal/fixture"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

type fakeAuth struct {
	mu       sync.Mutex
	err      error
	userID   string
	accounts []string
}

func (f *fakeAuth) Login(ctx context.Context, page driver.Page, cred models.CredentialRecord) (auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = append(f.accounts, cred.AccountID)
	if f.err != nil {
		return auth.Session{Status: 401}, f.err
	}
	return auth.Session{Status: 200, UserID: f.userID}, nil
}

type harness struct {
	lifecycle *fixture.Lifecycle
	launcher  *drivertest.Launcher
	pool      *browser.Pool
	contexts  *ctxmgr.Manager
	auth      *fakeAuth
	dir       string
}

func newHarness(t *testing.T, opts fixture.Options) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	credDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(credDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(credDir, "credentials.json"),
		[]byte(`{"seller1":{"username":"seller1@example.com","password":"secret","id":42}}`), 0o644))
	store := credentials.NewStore(credDir, logger)
	require.NoError(t, store.LoadAll())

	policy := models.ArtifactPolicy{Screenshots: models.CaptureOnFailure, Trace: models.CaptureOnFailure}
	launcher := &drivertest.Launcher{}
	pool := browser.NewPool(launcher, logger, browser.PoolOptions{})
	contexts := ctxmgr.NewManager(ctxmgr.Options{
		Tracing:      policy.TracingEnabled(),
		AuthStateDir: filepath.Join(dir, "auth"),
	}, logger)
	recorder := artifact.NewRecorder(filepath.Join(dir, "results"), policy, logger)
	fa := &fakeAuth{userID: "12345"}

	return &harness{
		lifecycle: fixture.NewLifecycle(opts, pool, contexts, store, fa, recorder, logger),
		launcher:  launcher,
		pool:      pool,
		contexts:  contexts,
		auth:      fa,
		dir:       dir,
	}
}

func (h *harness) assertNoLeaks(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, h.contexts.Len(), "open contexts")
	for _, b := range h.launcher.Launched() {
		assert.False(t, b.IsConnected(), "browser %s still connected", b.ID())
	}
}

func TestStart_AuthenticatedWebScenario(t *testing.T) {
	h := newHarness(t, fixture.Options{NavigationTimeout: 20 * time.Second, ActionTimeout: 5 * time.Second})
	ctx := context.Background()

	sc, err := h.lifecycle.Start(ctx, "Seller creates a listing", []string{"@web-ui", "@user=seller1"})
	require.NoError(t, err)

	assert.Equal(t, models.StateActive, sc.State())
	assert.Equal(t, []models.ScenarioState{
		models.StateUninitialized,
		models.StateResourceAcquired,
		models.StateContextReady,
		models.StatePageReady,
		models.StateAuthenticated,
		models.StateActive,
	}, sc.History())
	assert.Equal(t, "12345", sc.SessionID)
	require.NotNil(t, sc.Account)
	assert.Equal(t, "seller1", sc.Account.AccountID)
	assert.Equal(t, []string{"seller1"}, h.auth.accounts)

	c := h.launcher.Launched()[0].Contexts()[0]
	assert.Equal(t, []string{"trace:start", "page"}, c.Events())
	nav, action := c.Pages()[0].Timeouts()
	assert.Equal(t, 20*time.Second, nav)
	assert.Equal(t, 5*time.Second, action)

	// a failing step later in the scenario
	require.NoError(t, h.lifecycle.Finish(sc, models.OutcomeFailed))

	assert.Equal(t, models.StateClosed, sc.State())
	assert.FileExists(t, sc.ScreenshotPath)
	assert.FileExists(t, sc.TracePath)
	assert.Equal(t, []string{"trace:start", "page", "trace:stop", "close"}, c.Events())
	h.assertNoLeaks(t)
}

func TestFinish_PassedScenarioDiscardsArtifacts(t *testing.T) {
	h := newHarness(t, fixture.Options{})
	ctx := context.Background()

	sc, err := h.lifecycle.Start(ctx, "Browse listings", []string{"@web-ui"})
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.Finish(sc, models.OutcomePassed))

	assert.Empty(t, sc.ScreenshotPath)
	assert.Empty(t, sc.TracePath)
	c := h.launcher.Launched()[0].Contexts()[0]
	assert.Equal(t, []string{""}, c.TraceStops())
	h.assertNoLeaks(t)
}

func TestFinish_RunsOnce(t *testing.T) {
	h := newHarness(t, fixture.Options{})
	ctx := context.Background()

	sc, err := h.lifecycle.Start(ctx, "Browse listings", []string{"@web-ui"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.lifecycle.Finish(sc, models.OutcomeFailed))
		}()
	}
	wg.Wait()

	b := h.launcher.Launched()[0]
	assert.Equal(t, 1, b.CloseCalls())
	assert.Equal(t, 1, b.Contexts()[0].CloseCalls())
	assert.Len(t, b.Contexts()[0].Pages()[0].Screenshots(), 1)
}

func TestFinish_NilScenario(t *testing.T) {
	h := newHarness(t, fixture.Options{})
	assert.NoError(t, h.lifecycle.Finish(nil, models.OutcomeFailed))
}

func TestStart_WithoutBrowserTagsStaysHeadless(t *testing.T) {
	h := newHarness(t, fixture.Options{})
	ctx := context.Background()

	sc, err := h.lifecycle.Start(ctx, "Listing API contract", []string{"@api", "@smoke"})
	require.NoError(t, err)

	assert.Equal(t, models.StateActive, sc.State())
	assert.Nil(t, sc.Browser)
	assert.Nil(t, sc.Page)
	assert.Empty(t, h.launcher.Launched())

	require.NoError(t, h.lifecycle.Finish(sc, models.OutcomeFailed))
	assert.Equal(t, models.StateClosed, sc.State())
}

func TestStart_UnknownAccountStillTearsDown(t *testing.T) {
	h := newHarness(t, fixture.Options{})
	ctx := context.Background()

	sc, err := h.lifecycle.Start(ctx, "Ghost seller", []string{"@user=ghost"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
	assert.Equal(t, models.StatePageReady, sc.State())
	assert.Empty(t, h.auth.accounts)

	require.NoError(t, h.lifecycle.Finish(sc, models.OutcomeFailed))
	h.assertNoLeaks(t)
}

func TestStart_AuthenticationFailure(t *testing.T) {
	h := newHarness(t, fixture.Options{})
	h.auth.err = fmt.Errorf("%w: login failed for seller1 with status 401", models.ErrAuthentication)
	ctx := context.Background()

	sc, err := h.lifecycle.Start(ctx, "Seller logs in", []string{"@web-ui", "@user=seller1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAuthentication))
	assert.Nil(t, sc.Account)
	assert.Empty(t, sc.SessionID)

	require.NoError(t, h.lifecycle.Finish(sc, models.OutcomeFailed))
	h.assertNoLeaks(t)
}

func TestStart_MissingSessionIDIsNotFatal(t *testing.T) {
	h := newHarness(t, fixture.Options{})
	h.auth.userID = ""

	sc, err := h.lifecycle.Start(context.Background(), "Seller logs in", []string{"@user=seller1"})
	require.NoError(t, err)
	assert.True(t, sc.Authenticated())
	assert.Empty(t, sc.SessionID)
}

func TestStart_InvalidTagFailsBeforeAcquiring(t *testing.T) {
	h := newHarness(t, fixture.Options{})

	sc, err := h.lifecycle.Start(context.Background(), "Bad tags", []string{"@web-ui", "@browser=opera"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
	assert.Equal(t, models.StateUninitialized, sc.State())
	assert.Empty(t, h.launcher.Launched())
	assert.NoError(t, h.lifecycle.Finish(sc, models.OutcomeFailed))
}

func TestStart_ContextFailureReleasesBrowser(t *testing.T) {
	h := newHarness(t, fixture.Options{Platform: models.PlatformAndroid, AndroidDevice: "nokia3310"})
	ctx := context.Background()

	sc, err := h.lifecycle.Start(ctx, "Mobile search", []string{"@web-ui"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
	assert.Equal(t, models.StateResourceAcquired, sc.State())
	assert.Nil(t, sc.Context)

	require.NoError(t, h.lifecycle.Finish(sc, models.OutcomeFailed))
	assert.Equal(t, 1, h.launcher.Launched()[0].CloseCalls())
}

func TestStart_CancelledContext(t *testing.T) {
	h := newHarness(t, fixture.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc, err := h.lifecycle.Start(ctx, "Browse listings", []string{"@web-ui"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrResource))
	assert.Empty(t, h.launcher.Launched())
	assert.NoError(t, h.lifecycle.Finish(sc, models.OutcomeFailed))
}

func TestStart_DirectiveSelectsEngineAndDevice(t *testing.T) {
	h := newHarness(t, fixture.Options{Browser: models.EngineWebKit})

	sc, err := h.lifecycle.Start(context.Background(), "Mobile search", []string{"@web-ui", "@browser=firefox", "@device=mobile"})
	require.NoError(t, err)
	defer h.lifecycle.Finish(sc, models.OutcomePassed)

	assert.Equal(t, models.EngineFirefox, sc.Engine)
	assert.Equal(t, models.DeviceMobile, sc.Device)
	c := h.launcher.Launched()[0].Contexts()[0]
	require.NotNil(t, c.Options.IsMobile)
	assert.True(t, *c.Options.IsMobile)

	other, err := h.lifecycle.Start(context.Background(), "Desktop search", []string{"@web-ui"})
	require.NoError(t, err)
	defer h.lifecycle.Finish(other, models.OutcomePassed)
	assert.Equal(t, models.EngineWebKit, other.Engine)
	assert.Equal(t, models.DeviceDesktop, other.Device)
}

func TestStart_AndroidForcesChromium(t *testing.T) {
	h := newHarness(t, fixture.Options{AndroidSerial: "emulator-5554"})

	sc, err := h.lifecycle.Start(context.Background(), "Android search", []string{"@android", "@browser=webkit"})
	require.NoError(t, err)
	defer h.lifecycle.Finish(sc, models.OutcomePassed)

	assert.Equal(t, models.PlatformAndroid, sc.Platform)
	assert.Equal(t, models.EngineChromium, sc.Engine)
	assert.Equal(t, models.Device(ctxmgr.DefaultAndroidDevice), sc.Device)
	assert.Equal(t, driver.TargetAndroid, h.launcher.Options()[0].Target)
}

func TestStart_MaximizesHeadedChromiumOnly(t *testing.T) {
	h := newHarness(t, fixture.Options{Browser: models.EngineFirefox, Launch: driver.LaunchOptions{Headless: false}})
	ctx := context.Background()

	chromium, err := h.lifecycle.Start(ctx, "Chromium override", []string{"@web-ui", "@browser=chromium"})
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.Finish(chromium, models.OutcomePassed))

	firefox, err := h.lifecycle.Start(ctx, "Default engine", []string{"@web-ui"})
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.Finish(firefox, models.OutcomePassed))

	launched := h.launcher.Options()
	require.Len(t, launched, 2)
	assert.Equal(t, models.EngineChromium, chromium.Engine)
	assert.Contains(t, launched[0].Args, "--start-maximized")
	assert.Equal(t, models.EngineFirefox, firefox.Engine)
	assert.NotContains(t, launched[1].Args, "--start-maximized")
}

func TestStart_SharedBrowserOutlivesScenario(t *testing.T) {
	h := newHarness(t, fixture.Options{ReuseBrowser: true})
	ctx := context.Background()

	first, err := h.lifecycle.Start(ctx, "First", []string{"@web-ui"})
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.Finish(first, models.OutcomePassed))

	second, err := h.lifecycle.Start(ctx, "Second", []string{"@web-ui"})
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.Finish(second, models.OutcomePassed))

	require.Len(t, h.launcher.Launched(), 1)
	assert.True(t, first.Shared())
	assert.Same(t, first.Browser, second.Browser)
	assert.True(t, h.launcher.Launched()[0].IsConnected())
	assert.Equal(t, 0, h.contexts.Len())

	require.NoError(t, h.pool.ReleaseAll())
	h.assertNoLeaks(t)
}

func TestStart_ReusesPersistedAuthState(t *testing.T) {
	h := newHarness(t, fixture.Options{ReuseAuthState: true})
	ctx := context.Background()

	first, err := h.lifecycle.Start(ctx, "First login", []string{"@user=seller1"})
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.Finish(first, models.OutcomePassed))

	statePath := h.contexts.AuthStatePath("seller1")
	assert.FileExists(t, statePath)
	assert.Nil(t, h.launcher.Launched()[0].Contexts()[0].Options.StorageStatePath)

	second, err := h.lifecycle.Start(ctx, "Second login", []string{"@user=seller1"})
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.Finish(second, models.OutcomePassed))

	opts := h.launcher.Launched()[1].Contexts()[0].Options
	require.NotNil(t, opts.StorageStatePath)
	assert.Equal(t, statePath, *opts.StorageStatePath)
}

func TestScenarioContext_CarriedInContext(t *testing.T) {
	h := newHarness(t, fixture.Options{})
	sc, err := h.lifecycle.Start(context.Background(), "API only", nil)
	require.NoError(t, err)

	ctx := fixture.WithScenario(context.Background(), sc)
	got, ok := fixture.FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, sc, got)

	_, ok = fixture.FromContext(context.Background())
	assert.False(t, ok)

	sc.RememberListing("L-991")
	assert.Equal(t, "L-991", got.ListingID())
}
