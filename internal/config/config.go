package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shehryarbajwa/listing-harness/internal/artifact"
	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Config holds run-wide settings. It is read-only once loaded.
type Config struct {
	Headless      bool
	Browser       models.Engine
	BrowserTarget driver.Target
	// ContainerImage is the browser image used by the container target.
	ContainerImage string
	ReuseBrowser   bool
	MaxBrowsers    int64

	Platform       models.Platform
	AndroidDevice  string
	AndroidSerial  string
	AndroidCDPPort int

	Workers int

	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	AuthTimeout       time.Duration

	CredentialsDir string
	ArtifactsDir   string
	AuthStateDir   string
	ReuseAuthState bool

	Artifacts models.ArtifactPolicy

	BaseURL            string
	LoginRatePerMinute int
	IgnoreHTTPSErrors  bool

	LogLevel string
}

// Load reads the configuration from environment variables
func Load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Headless:           !strings.EqualFold(getenv("HEADLESS"), "false"),
		Browser:            models.EngineChromium,
		BrowserTarget:      driver.TargetLocal,
		ContainerImage:     getenv("BROWSER_CONTAINER_IMAGE"),
		AndroidDevice:      getenv("ANDROID_DEVICE"),
		AndroidSerial:      getenv("ANDROID_DEVICE_SERIAL"),
		Platform:           models.PlatformDesktop,
		CredentialsDir:     valueOr(getenv("CREDENTIALS_DIR"), "tests/data"),
		ArtifactsDir:       valueOr(getenv("ARTIFACTS_DIR"), "test-results"),
		AuthStateDir:       valueOr(getenv("AUTH_STATE_DIR"), ".auth"),
		BaseURL:            valueOr(getenv("BASE_URL"), "https://staging.propertyguru.vn/"),
		LogLevel:           valueOr(getenv("LOG_LEVEL"), "info"),
		LoginRatePerMinute: 30,
		AndroidCDPPort:     9222,
		IgnoreHTTPSErrors:  true,
	}

	if browser := strings.ToLower(getenv("BROWSER")); browser != "" {
		switch models.Engine(browser) {
		case models.EngineChromium, models.EngineFirefox, models.EngineWebKit:
			cfg.Browser = models.Engine(browser)
		default:
			return nil, fmt.Errorf("BROWSER must be one of chromium, firefox, webkit, got %q", browser)
		}
	}

	if target := strings.ToLower(getenv("BROWSER_TARGET")); target != "" {
		switch driver.Target(target) {
		case driver.TargetLocal, driver.TargetContainer:
			cfg.BrowserTarget = driver.Target(target)
		default:
			return nil, fmt.Errorf("BROWSER_TARGET must be local or container, got %q", target)
		}
	}

	if strings.EqualFold(getenv("ANDROID"), "true") || strings.EqualFold(getenv("PLATFORM"), "android") {
		cfg.Platform = models.PlatformAndroid
	}

	var err error
	if cfg.ReuseBrowser, err = boolOr(getenv, "REUSE_BROWSER", false); err != nil {
		return nil, err
	}
	if cfg.ReuseAuthState, err = boolOr(getenv, "REUSE_AUTH_STATE", false); err != nil {
		return nil, err
	}
	if cfg.IgnoreHTTPSErrors, err = boolOr(getenv, "IGNORE_HTTPS_ERRORS", true); err != nil {
		return nil, err
	}

	defaultWorkers := 1
	if getenv("CI") != "" {
		defaultWorkers = 2
	}
	if cfg.Workers, err = intOr(getenv, "WORKERS", defaultWorkers); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 || cfg.Workers > runtime.NumCPU()*4 {
		return nil, fmt.Errorf("WORKERS must be between 1 and %d", runtime.NumCPU()*4)
	}

	maxBrowsers, err := intOr(getenv, "MAX_BROWSERS", 0)
	if err != nil {
		return nil, err
	}
	cfg.MaxBrowsers = int64(maxBrowsers)

	if cfg.AndroidCDPPort, err = intOr(getenv, "ANDROID_CDP_PORT", cfg.AndroidCDPPort); err != nil {
		return nil, err
	}
	if cfg.LoginRatePerMinute, err = intOr(getenv, "LOGIN_RATE_PER_MINUTE", cfg.LoginRatePerMinute); err != nil {
		return nil, err
	}

	if cfg.LaunchTimeout, err = durationOr(getenv, "LAUNCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.NavigationTimeout, err = durationOr(getenv, "NAVIGATION_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ActionTimeout, err = durationOr(getenv, "ACTION_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.AuthTimeout, err = durationOr(getenv, "AUTH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.Artifacts.Screenshots, err = artifact.ParseMode(valueOr(getenv("SCREENSHOT"), string(models.CaptureOnFailure))); err != nil {
		return nil, fmt.Errorf("SCREENSHOT: %w", err)
	}
	if cfg.Artifacts.Trace, err = artifact.ParseMode(valueOr(getenv("TRACE"), string(models.CaptureOnFailure))); err != nil {
		return nil, fmt.Errorf("TRACE: %w", err)
	}

	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}

	return cfg, nil
}

// LaunchOptions returns the browser launch options for the configured target
func (c *Config) LaunchOptions() driver.LaunchOptions {
	return driver.LaunchOptions{
		Target:   c.BrowserTarget,
		Headless: c.Headless,
		Timeout:  c.LaunchTimeout,
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func boolOr(getenv func(string) string, key string, fallback bool) (bool, error) {
	value := getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, value)
	}
	return b, nil
}

func intOr(getenv func(string) string, key string, fallback int) (int, error) {
	value := getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
	}
	return n, nil
}

func durationOr(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	value := getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, value)
	}
	return d, nil
}
