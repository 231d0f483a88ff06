// File: internal/browser/allocator.go
package browser

import (
	"runtime"
	"sort"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/scholarsync/internal/browser/stealth"
	"github.com/xkilldash9x/scholarsync/internal/config"
)

// LaunchFlags returns the command line flags layered on top of chromedp's
// defaults. A false boolean removes the flag from the command line.
func LaunchFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"enable-automation": false,
		"headless":          cfg.Headless,
		// Hides navigator.webdriver at the Blink level.
		"disable-blink-features": "AutomationControlled",
		"disable-extensions":     true,
		"disable-gpu":            cfg.Headless,
	}

	// Container friendly defaults.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}

	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}

// AllocatorOptions assembles the exec allocator options for one browser launch.
func AllocatorOptions(cfg config.BrowserConfig, persona stealth.Persona) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+16)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := LaunchFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if persona.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(persona.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	return opts
}
