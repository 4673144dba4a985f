// Package runner connects godog scenario hooks to the fixture lifecycle.
package runner

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/cucumber/godog"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/internal/fixture"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// StepRegistrar adds step definitions to a scenario
type StepRegistrar func(sc *godog.ScenarioContext)

// BrowserReleaser frees every pooled browser at the end of a run
type BrowserReleaser interface {
	ReleaseAll() error
}

// Suite is a godog suite whose scenarios run inside managed fixtures
type Suite struct {
	lifecycle *fixture.Lifecycle
	pool      BrowserReleaser
	steps     []StepRegistrar
	logger    *zap.Logger
}

// RunOptions select what a run executes and how it reports
type RunOptions struct {
	Paths       []string
	Tags        string
	Format      string
	Concurrency int
	Strict      bool
	Output      io.Writer

	// Context is the parent of every scenario context.
	Context context.Context
	// TestingT runs each scenario as a subtest when set.
	TestingT *testing.T
}

func NewSuite(lifecycle *fixture.Lifecycle, pool BrowserReleaser, logger *zap.Logger, steps ...StepRegistrar) *Suite {
	return &Suite{
		lifecycle: lifecycle,
		pool:      pool,
		steps:     steps,
		logger:    logger.Named("runner"),
	}
}

// InitializeScenario wraps every scenario in Start/Finish and registers steps
func (s *Suite) InitializeScenario(sc *godog.ScenarioContext) {
	sc.Before(func(ctx context.Context, p *godog.Scenario) (context.Context, error) {
		tags := make([]string, 0, len(p.Tags))
		for _, tag := range p.Tags {
			tags = append(tags, tag.Name)
		}

		scenario, err := s.lifecycle.Start(ctx, p.Name, tags)
		ctx = fixture.WithScenario(ctx, scenario)
		if err != nil {
			s.logger.Error("scenario setup failed", zap.String("scenario", p.Name), zap.Error(err))
			if ferr := s.lifecycle.Finish(scenario, models.OutcomeFailed); ferr != nil {
				s.logger.Error("teardown after failed setup", zap.String("scenario", p.Name), zap.Error(ferr))
			}
			return ctx, err
		}
		return ctx, nil
	})

	sc.After(func(ctx context.Context, p *godog.Scenario, err error) (context.Context, error) {
		scenario, ok := fixture.FromContext(ctx)
		if !ok {
			return ctx, nil
		}
		if ferr := s.lifecycle.Finish(scenario, models.OutcomeOf(err)); ferr != nil {
			s.logger.Error("scenario teardown failed", zap.String("scenario", p.Name), zap.Error(ferr))
			return ctx, ferr
		}
		return ctx, nil
	})

	for _, register := range s.steps {
		register(sc)
	}
}

// InitializeTestSuite frees pooled browsers once every scenario has finished
func (s *Suite) InitializeTestSuite(tsc *godog.TestSuiteContext) {
	tsc.AfterSuite(func() {
		if err := s.pool.ReleaseAll(); err != nil {
			s.logger.Error("failed to release browsers", zap.Error(err))
		}
	})
}

// Run executes the suite and returns godog's exit status
func (s *Suite) Run(opts RunOptions) int {
	if opts.Format == "" {
		opts.Format = "pretty"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	suite := godog.TestSuite{
		Name:                 "listing-harness",
		ScenarioInitializer:  s.InitializeScenario,
		TestSuiteInitializer: s.InitializeTestSuite,
		Options: &godog.Options{
			Format:         opts.Format,
			Paths:          opts.Paths,
			Tags:           opts.Tags,
			Concurrency:    opts.Concurrency,
			Strict:         opts.Strict,
			Output:         opts.Output,
			TestingT:       opts.TestingT,
			DefaultContext: opts.Context,
		},
	}
	return suite.Run()
}
