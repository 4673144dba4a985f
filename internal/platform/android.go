package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/internal/browser"
	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

const devtoolsSocket = "localabstract:chrome_devtools_remote"

// CommandRunner runs an external command and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// AndroidLauncher attaches to Chrome on a USB or emulator device. The device
// DevTools socket is forwarded to a local port with adb and reached over CDP.
type AndroidLauncher struct {
	serial    string
	port      int
	connector browser.CDPConnector
	run       CommandRunner
	logger    *zap.Logger

	mu   sync.Mutex
	refs int // open browsers sharing the forward
}

// NewAndroidLauncher creates a launcher for the device with the given serial
func NewAndroidLauncher(serial string, port int, connector browser.CDPConnector, logger *zap.Logger) *AndroidLauncher {
	return &AndroidLauncher{
		serial:    serial,
		port:      port,
		connector: connector,
		run:       execRunner,
		logger:    logger.Named("android"),
	}
}

// WithRunner replaces the adb command runner
func (l *AndroidLauncher) WithRunner(run CommandRunner) *AndroidLauncher {
	l.run = run
	return l
}

func (l *AndroidLauncher) local() string {
	return fmt.Sprintf("tcp:%d", l.port)
}

// Launch forwards the device socket and connects to it. Browsers share one
// forward; it is removed when the last of them closes.
func (l *AndroidLauncher) Launch(ctx context.Context, engine models.Engine, opts driver.LaunchOptions) (driver.Browser, error) {
	if engine != models.EngineChromium {
		return nil, fmt.Errorf("%w: android target only supports %s, got %s", models.ErrConfiguration, models.EngineChromium, engine)
	}
	if l.serial == "" {
		return nil, fmt.Errorf("%w: ANDROID_DEVICE_SERIAL is required for the android target", models.ErrConfiguration)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fwdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.retainForward(fwdCtx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d", l.port)
	b, err := l.connector.ConnectOverCDP(ctx, endpoint, timeout)
	if err != nil {
		l.releaseForward()
		return nil, err
	}

	return driver.WithCloseHook(b, func() error {
		l.releaseForward()
		return nil
	}), nil
}

func (l *AndroidLauncher) retainForward(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		out, err := l.run(ctx, "adb", "-s", l.serial, "forward", l.local(), devtoolsSocket)
		if err != nil {
			return fmt.Errorf("%w: adb forward on %s failed: %v: %s", models.ErrResource, l.serial, err, strings.TrimSpace(string(out)))
		}
		l.logger.Info("forwarded device devtools",
			zap.String("serial", l.serial),
			zap.String("endpoint", fmt.Sprintf("http://127.0.0.1:%d", l.port)))
	}
	l.refs++
	return nil
}

func (l *AndroidLauncher) releaseForward() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		return
	}
	l.refs--
	if l.refs == 0 {
		l.removeForward()
	}
}

func (l *AndroidLauncher) removeForward() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if out, err := l.run(ctx, "adb", "-s", l.serial, "forward", "--remove", l.local()); err != nil {
		l.logger.Warn("failed to remove adb forward",
			zap.String("serial", l.serial),
			zap.String("output", strings.TrimSpace(string(out))),
			zap.Error(err))
	}
}
