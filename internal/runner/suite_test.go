package runner_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

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
	"github.com/shehryarbajwa/listing-harness/internal/runner"
	"github.com/shehryarbajwa/listing-harness/internal/steps"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

type stubAuth struct{}

func (stubAuth) Login(ctx context.Context, page driver.Page, cred models.CredentialRecord) (auth.Session, error) {
	return auth.Session{Status: 200, UserID: "777"}, nil
}

type env struct {
	suite    *runner.Suite
	launcher *drivertest.Launcher
	contexts *ctxmgr.Manager
	results  string
}

func newEnv(t *testing.T, reuse bool) *env {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.json"),
		[]byte(`{"seller1":{"username":"seller1@example.com","password":"secret"}}`), 0o644))
	store := credentials.NewStore(dir, logger)
	require.NoError(t, store.LoadAll())

	policy := models.ArtifactPolicy{Screenshots: models.CaptureOnFailure, Trace: models.CaptureOnFailure}
	launcher := &drivertest.Launcher{}
	pool := browser.NewPool(launcher, logger, browser.PoolOptions{})
	contexts := ctxmgr.NewManager(ctxmgr.Options{Tracing: true, AuthStateDir: filepath.Join(dir, "auth")}, logger)
	results := filepath.Join(dir, "results")
	recorder := artifact.NewRecorder(results, policy, logger)

	lifecycle := fixture.NewLifecycle(fixture.Options{ReuseBrowser: reuse}, pool, contexts, store, stubAuth{}, recorder, logger)
	shared := steps.NewShared("https://staging.example.vn/", contexts)

	return &env{
		suite:    runner.NewSuite(lifecycle, pool, logger, shared.Register),
		launcher: launcher,
		contexts: contexts,
		results:  results,
	}
}

func (e *env) run(path string, concurrency int) int {
	return e.suite.Run(runner.RunOptions{
		Paths:       []string{path},
		Format:      "progress",
		Concurrency: concurrency,
		Strict:      true,
		Output:      io.Discard,
	})
}

func (e *env) assertNoLeaks(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, e.contexts.Len())
	for _, b := range e.launcher.Launched() {
		assert.False(t, b.IsConnected(), "browser %s left running", b.ID())
	}
}

func TestSuite_PassingScenarios(t *testing.T) {
	e := newEnv(t, false)

	require.Equal(t, 0, e.run("testdata/features", 1))

	launched := e.launcher.Launched()
	require.Len(t, launched, 2)
	assert.Equal(t, models.EngineFirefox, launched[1].Engine())
	e.assertNoLeaks(t)

	_, err := os.Stat(filepath.Join(e.results, "screenshots"))
	assert.True(t, os.IsNotExist(err), "passing scenarios keep no screenshots")
}

func TestSuite_ConcurrentScenariosShareBrowserUntilSuiteEnds(t *testing.T) {
	e := newEnv(t, true)

	require.Equal(t, 0, e.run("testdata/features", 3))

	// chromium and firefox each launch once under reuse
	assert.Len(t, e.launcher.Launched(), 2)
	e.assertNoLeaks(t)
}

func TestSuite_FailuresStillTearDown(t *testing.T) {
	e := newEnv(t, false)

	assert.NotEqual(t, 0, e.run("testdata/failing", 1))
	e.assertNoLeaks(t)

	shots, err := filepath.Glob(filepath.Join(e.results, "screenshots", "*.png"))
	require.NoError(t, err)
	assert.NotEmpty(t, shots)

	traces, err := filepath.Glob(filepath.Join(e.results, "tracing", "*.zip"))
	require.NoError(t, err)
	assert.NotEmpty(t, traces)
}
