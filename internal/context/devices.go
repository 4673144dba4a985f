package ctxmgr

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

var deviceProfiles = map[models.Device]models.DeviceProfile{
	models.DeviceDesktop: {
		Name:      string(models.DeviceDesktop),
		Viewport:  nil, // full screen
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0",
	},
	models.DeviceMobile: {
		Name:      string(models.DeviceMobile),
		Viewport:  &models.Viewport{Width: 375, Height: 812},
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 Safari/604.1",
		IsMobile:  true,
		HasTouch:  true,
	},
	models.DeviceTablet: {
		Name:      string(models.DeviceTablet),
		Viewport:  &models.Viewport{Width: 768, Height: 1024},
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 15_0 like Mac OS X) AppleWebKit/605.1.15 Safari/604.1",
		IsMobile:  true,
		HasTouch:  true,
	},
}

const (
	pixel5UserAgent = "Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	pixel7UserAgent = "Mozilla/5.0 (Linux; Android 14; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
)

// DefaultAndroidDevice is used when ANDROID_DEVICE is unset.
const DefaultAndroidDevice = "android"

var androidProfiles = map[string]models.DeviceProfile{
	"android": {
		Name: "android", Viewport: &models.Viewport{Width: 393, Height: 851},
		UserAgent: pixel5UserAgent, IsMobile: true, HasTouch: true, DeviceScaleFactor: 2.75,
	},
	"androidHighEnd": {
		Name: "androidHighEnd", Viewport: &models.Viewport{Width: 412, Height: 839},
		UserAgent: pixel7UserAgent, IsMobile: true, HasTouch: true, DeviceScaleFactor: 2.625,
	},
	"androidMidRange": {
		Name: "androidMidRange", Viewport: &models.Viewport{Width: 393, Height: 851},
		UserAgent: pixel5UserAgent, IsMobile: true, HasTouch: true, DeviceScaleFactor: 2.75,
	},
	"androidTablet": {
		Name: "androidTablet", Viewport: &models.Viewport{Width: 863, Height: 360},
		UserAgent: pixel7UserAgent, IsMobile: true, HasTouch: true, DeviceScaleFactor: 2.625,
	},
}

// Profile returns the named device profile
func Profile(device models.Device) (models.DeviceProfile, error) {
	profile, ok := deviceProfiles[device]
	if !ok {
		return models.DeviceProfile{}, fmt.Errorf("%w: unknown device %q", models.ErrConfiguration, device)
	}
	return profile, nil
}

// AndroidProfile returns the named Android device profile
func AndroidProfile(name string) (models.DeviceProfile, error) {
	if name == "" {
		name = DefaultAndroidDevice
	}
	profile, ok := androidProfiles[name]
	if !ok {
		names := lo.Keys(androidProfiles)
		sort.Strings(names)
		return models.DeviceProfile{}, fmt.Errorf("%w: unknown android device %q (known: %v)", models.ErrConfiguration, name, names)
	}
	return profile, nil
}
