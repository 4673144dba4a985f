package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shehryarbajwa/listing-harness/internal/artifact"
	"github.com/shehryarbajwa/listing-harness/internal/auth"
	"github.com/shehryarbajwa/listing-harness/internal/browser"
	"github.com/shehryarbajwa/listing-harness/internal/config"
	ctxmgr "github.com/shehryarbajwa/listing-harness/internal/context"
	"github.com/shehryarbajwa/listing-harness/internal/credentials"
	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/internal/fixture"
	"github.com/shehryarbajwa/listing-harness/internal/platform"
	"github.com/shehryarbajwa/listing-harness/internal/ratelimit"
	"github.com/shehryarbajwa/listing-harness/internal/runner"
	"github.com/shehryarbajwa/listing-harness/internal/steps"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

var version = "0.1.0"

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// harness is everything a run needs, in teardown order
type harness struct {
	router   *platform.Manager
	pool     *browser.Pool
	contexts *ctxmgr.Manager
	store    *credentials.Store
	suite    *runner.Suite
	logger   *zap.Logger
}

// buildHarness wires the orchestrator from configuration
func buildHarness(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*harness, error) {
	h := &harness{logger: logger}

	store := credentials.NewStore(cfg.CredentialsDir, logger)
	if err := store.LoadAll(); err != nil {
		return nil, err
	}
	h.store = store
	logger.Info("credentials loaded", zap.Int("accounts", len(store.Accounts())), zap.Strings("files", store.Sources()))

	runtime, err := driver.Start(logger)
	if err != nil {
		return nil, err
	}
	// The router owns the runtime from here on and closes it.
	h.router = platform.NewManager(runtime, logger)

	if cfg.BrowserTarget == driver.TargetContainer {
		containers, err := browser.NewContainerLauncher(runtime, cfg.ContainerImage, logger)
		if err != nil {
			h.close()
			return nil, err
		}
		h.router.Register(driver.TargetContainer, containers)

		imgCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := containers.EnsureImage(imgCtx); err != nil {
			h.close()
			return nil, err
		}
	}
	if cfg.AndroidSerial != "" {
		h.router.Register(driver.TargetAndroid, platform.NewAndroidLauncher(cfg.AndroidSerial, cfg.AndroidCDPPort, runtime, logger))
	}
	logger.Info("browser targets ready", zap.Any("targets", h.router.Targets()))
	if cfg.Platform == models.PlatformAndroid {
		if target := h.router.Route(driver.TargetAndroid); target != driver.TargetAndroid {
			logger.Warn("no android device attached, emulating mobile chromium",
				zap.String("target", string(target)))
		}
	}

	h.pool = browser.NewPool(h.router, logger, browser.PoolOptions{MaxInstances: cfg.MaxBrowsers})
	h.contexts = ctxmgr.NewManager(ctxmgr.Options{
		Tracing:           cfg.Artifacts.TracingEnabled(),
		IgnoreHTTPSErrors: cfg.IgnoreHTTPSErrors,
		BaseURL:           cfg.BaseURL,
		AuthStateDir:      cfg.AuthStateDir,
	}, logger)

	recorder := artifact.NewRecorder(cfg.ArtifactsDir, cfg.Artifacts, logger)
	authenticator := auth.NewAuthenticator(auth.Options{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.AuthTimeout,
	}, ratelimit.NewLimiter(cfg.LoginRatePerMinute, cfg.Workers), logger)

	lifecycle := fixture.NewLifecycle(fixture.Options{
		Browser:           cfg.Browser,
		Platform:          cfg.Platform,
		AndroidDevice:     cfg.AndroidDevice,
		AndroidSerial:     cfg.AndroidSerial,
		Launch:            cfg.LaunchOptions(),
		ReuseBrowser:      cfg.ReuseBrowser,
		ReuseAuthState:    cfg.ReuseAuthState,
		NavigationTimeout: cfg.NavigationTimeout,
		ActionTimeout:     cfg.ActionTimeout,
	}, h.pool, h.contexts, store, authenticator, recorder, logger)

	shared := steps.NewShared(cfg.BaseURL, h.contexts)
	h.suite = runner.NewSuite(lifecycle, h.pool, logger, shared.Register)

	return h, nil
}

func (h *harness) close() {
	if h.pool != nil {
		if err := h.pool.ReleaseAll(); err != nil {
			h.logger.Error("failed to release browsers", zap.Error(err))
		}
	}
	if h.router != nil {
		if err := h.router.Close(); err != nil {
			h.logger.Error("failed to close launchers", zap.Error(err))
		}
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// RunCommand returns the run command
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run feature files with managed browser fixtures",
		ArgsUsage: "[paths...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tags", Aliases: []string{"t"}, Usage: "tag expression selecting scenarios"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "pretty", Usage: "godog formatter"},
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Usage: "parallel scenarios (default WORKERS)"},
			&cli.BoolFlag{Name: "strict", Value: true, Usage: "fail on undefined or pending steps"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := buildHarness(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer h.close()

			paths := c.Args().Slice()
			if len(paths) == 0 {
				paths = []string{"features"}
			}
			concurrency := c.Int("concurrency")
			if concurrency == 0 {
				concurrency = cfg.Workers
			}

			logger.Info("starting run",
				zap.Strings("paths", paths),
				zap.String("tags", c.String("tags")),
				zap.Int("workers", concurrency),
				zap.String("engine", string(cfg.Browser)),
				zap.String("platform", string(cfg.Platform)))

			status := h.suite.Run(runner.RunOptions{
				Paths:       paths,
				Tags:        c.String("tags"),
				Format:      c.String("format"),
				Concurrency: concurrency,
				Strict:      c.Bool("strict"),
				Context:     ctx,
			})
			if status != 0 {
				return cli.Exit("scenarios failed", status)
			}
			return nil
		},
	}
}

// InstallCommand returns the install command
func InstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Install the playwright driver and browser engines",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "browser", Aliases: []string{"b"}, Usage: "engine to install (repeatable, default all)"},
		},
		Action: func(c *cli.Context) error {
			engines := lo.Map(c.StringSlice("browser"), func(name string, _ int) models.Engine {
				return models.Engine(strings.ToLower(name))
			})
			for _, engine := range engines {
				if !lo.Contains(models.Engines, engine) {
					return fmt.Errorf("%w: unknown browser %q", models.ErrConfiguration, engine)
				}
			}
			return driver.Install(engines...)
		},
	}
}

// AccountsCommand returns the accounts command
func AccountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "List the accounts available to @user tags",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			store := credentials.NewStore(cfg.CredentialsDir, logger)
			if err := store.LoadAll(); err != nil {
				return err
			}
			for _, id := range store.Accounts() {
				record, err := store.Resolve(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%-20s %s\n", id, record.Username)
			}
			return nil
		},
	}
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using system environment variables")
	}

	app := &cli.App{
		Name:    "harness",
		Usage:   "Listing platform end-to-end test harness",
		Version: version,
		Commands: []*cli.Command{
			RunCommand(),
			InstallCommand(),
			AccountsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
