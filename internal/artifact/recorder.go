// Package artifact decides when screenshots and traces are kept and writes them.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// ShouldCapture reports whether an artifact is kept for outcome under mode.
func ShouldCapture(mode models.CaptureMode, outcome models.Outcome) bool {
	switch mode {
	case models.CaptureAlways:
		return true
	case models.CaptureOnFailure:
		return outcome == models.OutcomeFailed
	default:
		return false
	}
}

// ParseMode accepts the canonical mode names and the playwright config aliases.
func ParseMode(value string) (models.CaptureMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "always", "on":
		return models.CaptureAlways, nil
	case "on-failure", "only-on-failure", "retain-on-failure":
		return models.CaptureOnFailure, nil
	case "never", "off":
		return models.CaptureNever, nil
	default:
		return "", fmt.Errorf("%w: unknown capture mode %q", models.ErrConfiguration, value)
	}
}

// TraceStopper stops tracing on a context; implemented by the context manager.
type TraceStopper interface {
	Tracing(c driver.BrowserContext) bool
	StopTracing(c driver.BrowserContext, path string) error
}

// Recorder writes artifacts under a base directory
type Recorder struct {
	dir    string
	policy models.ArtifactPolicy
	now    func() time.Time
	logger *zap.Logger
}

func NewRecorder(dir string, policy models.ArtifactPolicy, logger *zap.Logger) *Recorder {
	return &Recorder{
		dir:    dir,
		policy: policy,
		now:    time.Now,
		logger: logger.Named("artifacts"),
	}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

func (r *Recorder) path(kind, scenario, ext string) string {
	name := unsafeChars.ReplaceAllString(scenario, "_")
	return filepath.Join(r.dir, kind, fmt.Sprintf("%s-%d%s", name, r.now().UnixMilli(), ext))
}

// ScreenshotPath returns a fresh screenshot path for scenario
func (r *Recorder) ScreenshotPath(scenario string) string {
	return r.path("screenshots", scenario, ".png")
}

// TracePath returns a fresh trace archive path for scenario
func (r *Recorder) TracePath(scenario string) string {
	return r.path("tracing", scenario, ".zip")
}

// CaptureScreenshot takes a full-page screenshot when the policy asks for one.
// Failures are logged and returned as ErrArtifact; they never fail the scenario.
func (r *Recorder) CaptureScreenshot(page driver.Page, scenario string, outcome models.Outcome) (string, error) {
	if page == nil || !ShouldCapture(r.policy.Screenshots, outcome) {
		return "", nil
	}

	path := r.ScreenshotPath(scenario)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", r.fail("screenshot", path, err)
	}
	if err := page.Screenshot(path); err != nil {
		return "", r.fail("screenshot", path, err)
	}
	r.logger.Info("screenshot saved", zap.String("path", path))
	return path, nil
}

// FinishTrace stops tracing on c, keeping the archive when the policy asks for it
// and discarding it otherwise. A context that never started tracing yields no path.
func (r *Recorder) FinishTrace(stopper TraceStopper, c driver.BrowserContext, scenario string, outcome models.Outcome) (string, error) {
	if c == nil || !r.policy.TracingEnabled() || !stopper.Tracing(c) {
		return "", nil
	}

	path := ""
	if ShouldCapture(r.policy.Trace, outcome) {
		path = r.TracePath(scenario)
	}
	if err := stopper.StopTracing(c, path); err != nil {
		return "", r.fail("trace", path, err)
	}
	return path, nil
}

func (r *Recorder) fail(kind, path string, err error) error {
	r.logger.Warn("failed to write artifact", zap.String("kind", kind), zap.String("path", path), zap.Error(err))
	return fmt.Errorf("%w: %s %s: %v", models.ErrArtifact, kind, path, err)
}
