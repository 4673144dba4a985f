// Package fixture drives the per-scenario resource lifecycle: it acquires a
// browser, context and page as the scenario's tags require, authenticates the
// tagged account, and tears everything down exactly once.
package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

var stateOrder = map[models.ScenarioState]int{
	models.StateUninitialized:    0,
	models.StateResourceAcquired: 1,
	models.StateContextReady:     2,
	models.StatePageReady:        3,
	models.StateAuthenticated:    4,
	models.StateActive:           5,
	models.StateTearingDown:      6,
	models.StateClosed:           7,
}

// ScenarioContext is everything one scenario owns. Resource fields are nil
// until the matching stage has succeeded.
type ScenarioContext struct {
	ID        string
	Name      string
	Tags      []string
	Directive models.Directive
	Engine    models.Engine
	Device    models.Device
	Platform  models.Platform

	Browser driver.Browser
	Context driver.BrowserContext
	Page    driver.Page

	Account   *models.CredentialRecord
	SessionID string

	ScreenshotPath string
	TracePath      string

	// shared browsers belong to the pool cache and outlive the scenario.
	shared bool

	mu        sync.Mutex
	state     models.ScenarioState
	history   []models.ScenarioState
	listingID string

	teardown    sync.Once
	teardownErr error
}

func newScenario(name string, tags []string) *ScenarioContext {
	return &ScenarioContext{
		ID:      uuid.New().String(),
		Name:    name,
		Tags:    append([]string(nil), tags...),
		state:   models.StateUninitialized,
		history: []models.ScenarioState{models.StateUninitialized},
	}
}

// State returns the current lifecycle state
func (sc *ScenarioContext) State() models.ScenarioState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// History returns every state the scenario has passed through, in order
func (sc *ScenarioContext) History() []models.ScenarioState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]models.ScenarioState(nil), sc.history...)
}

// Shared reports whether the browser is a pooled instance reused across scenarios
func (sc *ScenarioContext) Shared() bool {
	return sc.shared
}

// Authenticated reports whether an account logged in for this scenario
func (sc *ScenarioContext) Authenticated() bool {
	return sc.Account != nil
}

// RememberListing stores the id of a listing created by a step
func (sc *ScenarioContext) RememberListing(id string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.listingID = id
}

// ListingID returns the remembered listing id, or "" if none was created
func (sc *ScenarioContext) ListingID() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.listingID
}

// advance moves to next. States only move forward.
func (sc *ScenarioContext) advance(next models.ScenarioState) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if stateOrder[next] <= stateOrder[sc.state] {
		return fmt.Errorf("invalid scenario transition %s -> %s", sc.state, next)
	}
	sc.state = next
	sc.history = append(sc.history, next)
	return nil
}

type scenarioKey struct{}

// WithScenario returns a copy of ctx carrying sc
func WithScenario(ctx context.Context, sc *ScenarioContext) context.Context {
	return context.WithValue(ctx, scenarioKey{}, sc)
}

// FromContext returns the scenario stored in ctx
func FromContext(ctx context.Context) (*ScenarioContext, bool) {
	sc, ok := ctx.Value(scenarioKey{}).(*ScenarioContext)
	return sc, ok && sc != nil
}
