// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Scholar ScholarConfig `mapstructure:"scholar" yaml:"scholar"`
	Batch   BatchConfig   `mapstructure:"batch" yaml:"batch"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the automated browser session.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	Debug           bool          `mapstructure:"debug" yaml:"debug"`
	Persona         PersonaConfig `mapstructure:"persona" yaml:"persona"`
}

// PersonaConfig is the fingerprint presented to the remote site.
type PersonaConfig struct {
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Platform  string   `mapstructure:"platform" yaml:"platform"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
}

// ScholarConfig describes the remote index: where it lives and how its pages are recognised.
// The site changes without notice, so every marker is data rather than code.
type ScholarConfig struct {
	SiteURL          string          `mapstructure:"site_url" yaml:"site_url"`
	SignInURL        string          `mapstructure:"sign_in_url" yaml:"sign_in_url"`
	SearchPath       string          `mapstructure:"search_path" yaml:"search_path"`
	ElementTimeout   time.Duration   `mapstructure:"element_timeout" yaml:"element_timeout"`
	PromptTimeout    time.Duration   `mapstructure:"prompt_timeout" yaml:"prompt_timeout"`
	PollInterval     time.Duration   `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxTitleDistance int             `mapstructure:"max_title_distance" yaml:"max_title_distance"`
	Selectors        SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
	Labels           LabelsConfig    `mapstructure:"labels" yaml:"labels"`
}

// SelectorsConfig holds CSS selectors for page markers.
type SelectorsConfig struct {
	ResultCount      string `mapstructure:"result_count" yaml:"result_count"`
	ErrorMessage     string `mapstructure:"error_message" yaml:"error_message"`
	FirstResult      string `mapstructure:"first_result" yaml:"first_result"`
	TitleHeading     string `mapstructure:"title_heading" yaml:"title_heading"`
	EmailField       string `mapstructure:"email_field" yaml:"email_field"`
	PasswordField    string `mapstructure:"password_field" yaml:"password_field"`
	LoggedInMarker   string `mapstructure:"logged_in_marker" yaml:"logged_in_marker"`
	AlertModal       string `mapstructure:"alert_modal" yaml:"alert_modal"`
	AlertModalCancel string `mapstructure:"alert_modal_cancel" yaml:"alert_modal_cancel"`
}

// LabelsConfig holds the visible button labels. Lists are ordered variants of the same affordance.
type LabelsConfig struct {
	SignIn        string   `mapstructure:"sign_in" yaml:"sign_in"`
	DisableAlert  []string `mapstructure:"disable_alert" yaml:"disable_alert"`
	ActivateAlert []string `mapstructure:"activate_alert" yaml:"activate_alert"`
	InLibrary     []string `mapstructure:"in_library" yaml:"in_library"`
	SaveToLibrary []string `mapstructure:"save_to_library" yaml:"save_to_library"`
}

// BatchConfig configures the reconciliation run.
type BatchConfig struct {
	WaitTime               time.Duration `mapstructure:"wait_time" yaml:"wait_time"`
	LedgerPath             string        `mapstructure:"ledger_path" yaml:"ledger_path"`
	RunLogPath             string        `mapstructure:"run_log_path" yaml:"run_log_path"`
	InputPath              string        `mapstructure:"input_path" yaml:"input_path"`
	AcceptedItemTypes      []string      `mapstructure:"accepted_item_types" yaml:"accepted_item_types"`
	MaxRecoveriesPerRecord int           `mapstructure:"max_recoveries_per_record" yaml:"max_recoveries_per_record"`
	ProgressBuffer         int           `mapstructure:"progress_buffer" yaml:"progress_buffer"`
}

var (
	globalConfig *Config
	globalMu     sync.RWMutex
)

// Set stores the process-wide configuration resolved by the root command.
func Set(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}

// Get returns the process-wide configuration, falling back to defaults when none was set.
func Get() *Config {
	globalMu.RLock()
	cfg := globalConfig
	globalMu.RUnlock()
	if cfg == nil {
		return NewDefaultConfig()
	}
	return cfg
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scholarsync")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	// The remote site is friendlier to a visible window, so headless is opt-in.
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.page_load_timeout", "15s")
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.persona.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.persona.platform", "Win32")
	v.SetDefault("browser.persona.languages", []string{"en-US", "en"})
	v.SetDefault("browser.persona.timezone", "")
	v.SetDefault("browser.persona.locale", "en-US")

	// -- Scholar --
	v.SetDefault("scholar.site_url", "https://www.semanticscholar.org/")
	v.SetDefault("scholar.sign_in_url", "https://www.semanticscholar.org/sign-in")
	v.SetDefault("scholar.search_path", "search?q=%s&sort=relevance")
	v.SetDefault("scholar.element_timeout", "15s")
	v.SetDefault("scholar.prompt_timeout", "3s")
	v.SetDefault("scholar.poll_interval", "250ms")
	v.SetDefault("scholar.max_title_distance", 10)
	v.SetDefault("scholar.selectors.result_count", ".dropdown-filters__result-count")
	v.SetDefault("scholar.selectors.error_message", ".error-message__main-text")
	v.SetDefault("scholar.selectors.first_result", ".result-page .cl-paper-title")
	v.SetDefault("scholar.selectors.title_heading", `h1[data-test-id="paper-detail-title"]`)
	v.SetDefault("scholar.selectors.email_field", `input[name="email"]`)
	v.SetDefault("scholar.selectors.password_field", `input[type="password"]`)
	v.SetDefault("scholar.selectors.logged_in_marker", ".search-input__label")
	v.SetDefault("scholar.selectors.alert_modal", ".cl-overlay .alert-modal .alert-modal__content")
	v.SetDefault("scholar.selectors.alert_modal_cancel", ".alert-modal form.create-alert-content section.form-buttons button.cl-button--type-tertiary")
	v.SetDefault("scholar.labels.sign_in", "Sign In")
	v.SetDefault("scholar.labels.disable_alert", []string{"Disable Alert"})
	v.SetDefault("scholar.labels.activate_alert", []string{"Activate Alert", "Create Alert"})
	v.SetDefault("scholar.labels.in_library", []string{"In Library"})
	v.SetDefault("scholar.labels.save_to_library", []string{"Save to Library"})

	// -- Batch --
	v.SetDefault("batch.wait_time", "37s")
	v.SetDefault("batch.ledger_path", "saveDataSC.csv")
	v.SetDefault("batch.run_log_path", "log.txt")
	v.SetDefault("batch.input_path", "bibliography.csv")
	v.SetDefault("batch.accepted_item_types", []string{
		"journalArticle", "conferencePaper", "bookSection", "preprint", "thesis", "book",
	})
	v.SetDefault("batch.max_recoveries_per_record", 1)
	v.SetDefault("batch.progress_buffer", 64)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ResolvePaths expands a leading ~ in every file path setting.
func (c *Config) ResolvePaths() error {
	paths := []*string{&c.Batch.LedgerPath, &c.Batch.RunLogPath, &c.Batch.InputPath, &c.Logger.LogFile, &c.Browser.ExecPath}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Scholar.Validate(); err != nil {
		return fmt.Errorf("scholar configuration invalid: %w", err)
	}
	if err := c.Batch.Validate(); err != nil {
		return fmt.Errorf("batch configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	if b.PageLoadTimeout <= 0 {
		return fmt.Errorf("page_load_timeout must be a positive duration")
	}
	if b.Persona.UserAgent == "" {
		return fmt.Errorf("persona.user_agent is required")
	}
	return nil
}

// Validate checks the remote site description.
func (s *ScholarConfig) Validate() error {
	if s.SiteURL == "" {
		return fmt.Errorf("site_url is required")
	}
	if !strings.Contains(s.SearchPath, "%s") {
		return fmt.Errorf("search_path must contain a %%s placeholder for the query")
	}
	if s.ElementTimeout <= 0 {
		return fmt.Errorf("element_timeout must be a positive duration")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if s.MaxTitleDistance < 0 {
		return fmt.Errorf("max_title_distance must not be negative")
	}
	return nil
}

// Validate checks the batch settings.
func (b *BatchConfig) Validate() error {
	if b.WaitTime < 0 {
		return fmt.Errorf("wait_time must not be negative")
	}
	if b.LedgerPath == "" {
		return fmt.Errorf("ledger_path is required")
	}
	if len(b.AcceptedItemTypes) == 0 {
		return fmt.Errorf("accepted_item_types must list at least one item type")
	}
	// A record gets at most one relogin-and-retry.
	if b.MaxRecoveriesPerRecord < 0 || b.MaxRecoveriesPerRecord > 1 {
		return fmt.Errorf("max_recoveries_per_record must be 0 or 1")
	}
	return nil
}
