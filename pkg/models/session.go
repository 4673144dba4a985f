package models

// ScenarioState represents the lifecycle stage of a scenario's fixtures
type ScenarioState string

const (
	StateUninitialized    ScenarioState = "UNINITIALIZED"
	StateResourceAcquired ScenarioState = "RESOURCE_ACQUIRED"
	StateContextReady     ScenarioState = "CONTEXT_READY"
	StatePageReady        ScenarioState = "PAGE_READY"
	StateAuthenticated    ScenarioState = "AUTHENTICATED"
	StateActive           ScenarioState = "ACTIVE"
	StateTearingDown      ScenarioState = "TEARING_DOWN"
	StateClosed           ScenarioState = "CLOSED"
)

// Outcome is the pass/fail result of a finished scenario
type Outcome string

const (
	OutcomePassed Outcome = "PASSED"
	OutcomeFailed Outcome = "FAILED"
)

// OutcomeOf maps a scenario error to an outcome.
func OutcomeOf(err error) Outcome {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomePassed
}

// Platform selects the desktop or mobile-device resource path
type Platform string

const (
	PlatformDesktop Platform = "desktop"
	PlatformAndroid Platform = "android"
)
