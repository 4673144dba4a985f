// Package directive turns a scenario's free-form tags into a typed Directive.
package directive

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Tag names recognized on scenarios.
const (
	TagWebUI   = "@web-ui"
	TagAndroid = "@android"

	PrefixBrowser = "@browser="
	PrefixDevice  = "@device="
	PrefixUser    = "@user="
)

// Parse extracts a Directive from tags. The first tag for each prefix wins;
// an unknown value for a known prefix is a configuration error.
func Parse(tags []string) (models.Directive, error) {
	var d models.Directive

	normalized := lo.Map(tags, func(tag string, _ int) string {
		return normalize(tag)
	})

	if value, ok := first(normalized, PrefixBrowser); ok {
		engine := models.Engine(strings.ToLower(value))
		if !lo.Contains(models.Engines, engine) {
			return models.Directive{}, fmt.Errorf("%w: unsupported browser %q in %s tag", models.ErrConfiguration, value, PrefixBrowser)
		}
		d.Engine = engine
	}

	if value, ok := first(normalized, PrefixDevice); ok {
		device := models.Device(strings.ToLower(value))
		if !lo.Contains(models.Devices, device) {
			return models.Directive{}, fmt.Errorf("%w: unsupported device %q in %s tag", models.ErrConfiguration, value, PrefixDevice)
		}
		d.Device = device
	}

	if value, ok := first(normalized, PrefixUser); ok {
		if value == "" {
			return models.Directive{}, fmt.Errorf("%w: empty account in %s tag", models.ErrConfiguration, PrefixUser)
		}
		d.AccountID = value
	}

	d.WebUI = lo.Contains(normalized, TagWebUI)
	d.Android = lo.Contains(normalized, TagAndroid)

	return d, nil
}

func first(tags []string, prefix string) (string, bool) {
	for _, tag := range tags {
		if strings.HasPrefix(tag, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(tag, prefix)), true
		}
	}
	return "", false
}

// normalize trims whitespace and adds the leading @ if the runner stripped it.
func normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag != "" && !strings.HasPrefix(tag, "@") {
		tag = "@" + tag
	}
	return tag
}
