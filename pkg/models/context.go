package models

// Viewport is a fixed page size in CSS pixels
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DeviceProfile is a named viewport/input-capability preset
type DeviceProfile struct {
	Name string `json:"name"`
	// Viewport is nil for a maximized window.
	Viewport          *Viewport `json:"viewport,omitempty"`
	UserAgent         string    `json:"userAgent"`
	IsMobile          bool      `json:"isMobile"`
	HasTouch          bool      `json:"hasTouch"`
	DeviceScaleFactor float64   `json:"deviceScaleFactor,omitempty"`
}

// Maximized reports whether the profile uses the native window size.
func (p DeviceProfile) Maximized() bool {
	return p.Viewport == nil
}
