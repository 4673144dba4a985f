package models

// CaptureMode decides when an artifact is kept
type CaptureMode string

const (
	CaptureAlways    CaptureMode = "always"
	CaptureOnFailure CaptureMode = "on-failure"
	CaptureNever     CaptureMode = "never"
)

// ArtifactPolicy is resolved once from run configuration
type ArtifactPolicy struct {
	Screenshots CaptureMode `json:"screenshots"`
	Trace       CaptureMode `json:"trace"`
}

// TracingEnabled reports whether contexts must record a trace.
func (p ArtifactPolicy) TracingEnabled() bool {
	return p.Trace != "" && p.Trace != CaptureNever
}
