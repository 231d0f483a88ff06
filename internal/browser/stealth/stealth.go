// File: internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scholarsync/internal/config"
)

//go:embed evasions.js
var evasionsScript string

// Plugin is one entry of the spoofed navigator.plugins list.
type Plugin struct {
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

// Persona is the browser fingerprint presented to the remote site.
type Persona struct {
	UserAgent  string   `json:"userAgent"`
	Platform   string   `json:"platform"`
	Languages  []string `json:"languages"`
	TimezoneID string   `json:"timezoneId,omitempty"`
	Locale     string   `json:"locale,omitempty"`
	Plugins    []Plugin `json:"plugins"`
}

// defaultPlugins mirrors the PDF viewer entries of a stock desktop Chrome.
var defaultPlugins = []Plugin{
	{Name: "PDF Viewer", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
	{Name: "Chrome PDF Viewer", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
	{Name: "Chromium PDF Viewer", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
}

// DefaultPersona is a desktop Chrome on Windows.
var DefaultPersona = Persona{
	UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:   "Win32",
	Languages:  []string{"en-US", "en"},
	TimezoneID: "America/New_York",
	Locale:     "en-US",
	Plugins:    defaultPlugins,
}

// FromConfig builds a Persona from configuration, falling back to
// DefaultPersona for anything left empty.
func FromConfig(cfg config.PersonaConfig) Persona {
	p := DefaultPersona
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.Platform != "" {
		p.Platform = cfg.Platform
	}
	if len(cfg.Languages) > 0 {
		p.Languages = append([]string(nil), cfg.Languages...)
	}
	if cfg.Timezone != "" {
		p.TimezoneID = cfg.Timezone
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
	}
	p.Plugins = append([]Plugin(nil), defaultPlugins...)
	return p
}

// AcceptLanguage renders the languages as an Accept-Language header value
// with descending q-values, floored at 0.7.
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Languages[0])
	for i := 1; i < len(p.Languages); i++ {
		q := 1.0 - float64(i)*0.1
		if q < 0.7 {
			q = 0.7
		}
		fmt.Fprintf(&b, ",%s;q=%.1f", p.Languages[i], q)
	}
	return b.String()
}

// Apply returns the CDP actions that install the persona on the current tab.
// It must run before the first navigation so the evasion script is present
// on every document.
func Apply(persona Persona, logger *zap.Logger) chromedp.Action {
	l := logger.Named("stealth")
	return chromedp.Tasks{
		network.Enable(),
		setExtraHTTPHeaders(persona, l),
		setUserAgent(persona, l),
		setEnvironmentOverrides(persona, l),
		injectEvasionScript(persona, l),
		chromedp.ActionFunc(func(ctx context.Context) error {
			l.Debug("Stealth persona applied.", zap.String("user_agent", persona.UserAgent))
			return nil
		}),
	}
}

// EvasionScript returns the evasion script with the persona bound to it.
func EvasionScript(persona Persona) (string, error) {
	personaJSON, err := json.Marshal(persona)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to marshal persona: %w", err)
	}
	return fmt.Sprintf("const SCHOLARSYNC_PERSONA = %s;\n%s", personaJSON, evasionsScript), nil
}

func injectEvasionScript(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		script, err := EvasionScript(persona)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			logger.Error("Failed to register evasion script.", zap.Error(err))
			return fmt.Errorf("stealth: failed to add script on new document: %w", err)
		}
		return nil
	})
}

func setUserAgent(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		override := emulation.SetUserAgentOverride(persona.UserAgent).
			WithPlatform(persona.Platform).
			WithAcceptLanguage(persona.AcceptLanguage())
		if err := override.Do(ctx); err != nil {
			logger.Error("Failed to set user agent override.", zap.Error(err))
			return fmt.Errorf("stealth: failed to set user agent override: %w", err)
		}
		return nil
	})
}

func setExtraHTTPHeaders(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		lang := persona.AcceptLanguage()
		if lang == "" {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": lang}).Do(ctx); err != nil {
			logger.Error("Failed to set extra HTTP headers.", zap.Error(err))
			return fmt.Errorf("stealth: failed to set extra http headers: %w", err)
		}
		return nil
	})
}

func setEnvironmentOverrides(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if persona.TimezoneID != "" {
			if err := emulation.SetTimezoneOverride(persona.TimezoneID).Do(ctx); err != nil {
				logger.Error("Failed to set timezone override.", zap.Error(err))
				return fmt.Errorf("stealth: failed to set timezone: %w", err)
			}
		}

		locale := persona.Locale
		if locale == "" && len(persona.Languages) > 0 {
			locale = persona.Languages[0]
		}
		if locale != "" {
			locale = strings.ReplaceAll(locale, "_", "-")
			if err := emulation.SetLocaleOverride().WithLocale(locale).Do(ctx); err != nil {
				logger.Error("Failed to set locale override.", zap.Error(err))
				return fmt.Errorf("stealth: failed to set locale: %w", err)
			}
		}
		return nil
	})
}
