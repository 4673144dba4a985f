package models

import "errors"

// Error categories. Components wrap these with fmt.Errorf("%w: ...") so callers can use errors.Is.
var (
	// ErrConfiguration covers unknown tag values, accounts and devices. Fatal before setup completes.
	ErrConfiguration = errors.New("configuration error")
	// ErrResource covers engine launch failures and disconnected instances.
	ErrResource = errors.New("resource error")
	// ErrAuthentication is a non-success login response.
	ErrAuthentication = errors.New("authentication error")
	// ErrArtifact is a screenshot or trace write failure. Never fails a scenario.
	ErrArtifact = errors.New("artifact error")
)
