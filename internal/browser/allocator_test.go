// File: internal/browser/allocator_test.go
package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/scholarsync/internal/browser/stealth"
	"github.com/xkilldash9x/scholarsync/internal/config"
)

func TestLaunchFlags(t *testing.T) {
	t.Run("automation is suppressed", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{})
		assert.Equal(t, false, flags["enable-automation"])
		assert.Equal(t, "AutomationControlled", flags["disable-blink-features"])
	})

	t.Run("headful by default", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{})
		assert.Equal(t, false, flags["headless"])
		assert.Equal(t, false, flags["disable-gpu"])
	})

	t.Run("headless toggles gpu", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{Headless: true})
		assert.Equal(t, true, flags["headless"])
		assert.Equal(t, true, flags["disable-gpu"])
	})

	t.Run("custom args", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{
			Args: []string{"--custom-arg1", "--proxy-server=socks5://127.0.0.1:9050", "--", ""},
		})
		assert.Equal(t, true, flags["custom-arg1"])
		assert.Equal(t, "socks5://127.0.0.1:9050", flags["proxy-server"])
		assert.NotContains(t, flags, "")
	})

	t.Run("custom args may override builtin flags", func(t *testing.T) {
		flags := LaunchFlags(config.BrowserConfig{Args: []string{"--disable-extensions=false"}})
		assert.Equal(t, "false", flags["disable-extensions"])
	})
}

func TestAllocatorOptions(t *testing.T) {
	base := AllocatorOptions(config.BrowserConfig{}, stealth.Persona{})
	assert.Len(t, base, len(chromedp.DefaultExecAllocatorOptions)+len(LaunchFlags(config.BrowserConfig{})))

	full := AllocatorOptions(config.BrowserConfig{
		ExecPath:     "/opt/chrome/chrome",
		WindowWidth:  1280,
		WindowHeight: 800,
	}, stealth.DefaultPersona)
	// user agent, exec path and window size.
	assert.Len(t, full, len(base)+3)
}
