package models

// Engine is a browser automation backend
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebKit   Engine = "webkit"
)

// Engines lists the supported engines in preference order.
var Engines = []Engine{EngineChromium, EngineFirefox, EngineWebKit}

// Device names a desktop, mobile or tablet profile
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
)

// Devices lists the supported device profile names.
var Devices = []Device{DeviceDesktop, DeviceMobile, DeviceTablet}

// Directive is the setup intent parsed from a scenario's tags.
// Empty fields were not requested and fall back to defaults downstream.
type Directive struct {
	Engine    Engine `json:"engine,omitempty"`
	Device    Device `json:"device,omitempty"`
	AccountID string `json:"accountId,omitempty"`

	// WebUI is set by @web-ui.
	WebUI bool `json:"webUI,omitempty"`
	// Android is set by @android.
	Android bool `json:"android,omitempty"`
}

// NeedsBrowser reports whether the scenario requires a page.
// Authentication goes through the page's request context, so an account implies one.
func (d Directive) NeedsBrowser() bool {
	return d.WebUI || d.Android || d.AccountID != ""
}
