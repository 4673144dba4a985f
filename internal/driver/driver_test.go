package driver_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/internal/driver/drivertest"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

func TestNormalize(t *testing.T) {
	opts := driver.LaunchOptions{
		Headless: true,
		Args:     []string{"--start-maximized", "", "--disable-gpu", "--start-maximized"},
		Timeout:  time.Minute,
	}.Normalize()

	assert.Equal(t, driver.TargetLocal, opts.Target)
	assert.Equal(t, []string{"--disable-gpu", "--start-maximized"}, opts.Args)
	assert.Equal(t, time.Minute, opts.Timeout)

	empty := driver.LaunchOptions{Args: []string{""}, Target: driver.TargetContainer}.Normalize()
	assert.Nil(t, empty.Args)
	assert.Equal(t, driver.TargetContainer, empty.Target)
}

func TestWithCloseHook_RunsOnce(t *testing.T) {
	calls := 0
	b := driver.WithCloseHook(drivertest.NewBrowser(models.EngineChromium), func() error {
		calls++
		return nil
	})

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, calls)
	assert.False(t, b.IsConnected())
}

func TestWithCloseHook_JoinsHookError(t *testing.T) {
	hookErr := errors.New("container stop failed")
	b := driver.WithCloseHook(drivertest.NewBrowser(models.EngineChromium), func() error {
		return hookErr
	})

	assert.ErrorIs(t, b.Close(), hookErr)
}
