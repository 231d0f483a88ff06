// Package session owns the single authenticated browser session of a run.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scholarsync/api/schemas"
	"github.com/xkilldash9x/scholarsync/internal/browser"
	"github.com/xkilldash9x/scholarsync/internal/browser/stealth"
	"github.com/xkilldash9x/scholarsync/internal/config"
)

var (
	// ErrDriverInit wraps every failure to launch the browser.
	ErrDriverInit = errors.New("browser session could not be started")
	// ErrNotStarted is returned by page operations while no browser is running.
	ErrNotStarted = errors.New("browser session is not started")
	// ErrAborted is returned by Start after a recovery failed to relaunch the browser.
	ErrAborted = errors.New("browser session was aborted")
)

// Manager launches, authenticates, and recovers one browser session. The
// driver never leaves the manager; callers act on the page through Page().
type Manager struct {
	browserCfg config.BrowserConfig
	scholarCfg config.ScholarConfig
	factory    browser.Factory
	creds      schemas.Credentials
	logger     *zap.Logger

	mu            sync.Mutex
	state         State
	driver        browser.Driver
	authenticated bool
	id            string
	recoveries    int
	faultReason   string
}

// New returns an idle manager. Nothing is launched until Start.
func New(cfg *config.Config, factory browser.Factory, creds schemas.Credentials, logger *zap.Logger) *Manager {
	return &Manager{
		browserCfg: cfg.Browser,
		scholarCfg: cfg.Scholar,
		factory:    factory,
		creds:      creds,
		logger:     logger.Named("session"),
	}
}

// Start launches the browser with the configured persona and page-load
// timeout. It is a no-op when a browser is already running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateAborted {
		m.mu.Unlock()
		return ErrAborted
	}
	if m.driver != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	d, err := m.factory(ctx, browser.LaunchOptions{
		Headless: m.browserCfg.Headless,
		Persona:  stealth.FromConfig(m.browserCfg.Persona),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDriverInit, err)
	}
	d.SetPageLoadTimeout(m.browserCfg.PageLoadTimeout)

	m.mu.Lock()
	m.driver = d
	m.authenticated = false
	m.id = uuid.NewString()
	if m.state != StateRecovering {
		m.state = StateActive
	}
	id := m.id
	m.mu.Unlock()

	m.logger.Info("Browser session started.", zap.String("session_id", id), zap.Bool("headless", m.browserCfg.Headless))
	return nil
}

// Login signs in with the run's credentials and waits for the signed-in
// search box. Every failure mode reports false; only success marks the
// session authenticated.
func (m *Manager) Login(ctx context.Context) bool {
	d := m.current()
	if d == nil {
		m.logger.Warn("Login requested without a running browser.")
		return false
	}
	log := m.logger.With(zap.String("session_id", m.ID()))
	sel := m.scholarCfg.Selectors
	timeout, poll := m.scholarCfg.ElementTimeout, m.scholarCfg.PollInterval

	if err := d.Navigate(ctx, m.scholarCfg.SignInURL); err != nil {
		log.Warn("Could not reach the sign-in page.", zap.Error(err))
		return false
	}

	emailField := browser.CSS(sel.EmailField)
	if ok, _ := browser.WaitFor(ctx, d, emailField, timeout, poll); !ok {
		log.Warn("Sign-in form did not render.")
		return false
	}
	if err := d.SendKeys(ctx, emailField, m.creds.Email); err != nil {
		log.Warn("Could not enter the email address.", zap.Error(err))
		return false
	}
	if err := d.SendKeys(ctx, browser.CSS(sel.PasswordField), m.creds.Password); err != nil {
		log.Warn("Could not enter the password.", zap.Error(err))
		return false
	}
	if err := d.Click(ctx, browser.LabelSelector(m.scholarCfg.Labels.SignIn)); err != nil {
		log.Warn("Could not press the sign-in button.", zap.Error(err))
		return false
	}

	if ok, _ := browser.WaitFor(ctx, d, browser.CSS(sel.LoggedInMarker), timeout, poll); !ok {
		log.Warn("Sign-in was not confirmed; check the credentials.", zap.Duration("timeout", timeout))
		return false
	}

	m.mu.Lock()
	// A concurrent Stop may have replaced the driver meanwhile.
	if m.driver == d {
		m.authenticated = true
		if m.state == StateFaulted {
			m.state = StateActive
		}
	}
	ok := m.authenticated
	m.mu.Unlock()

	if ok {
		log.Info("Signed in.", zap.String("account", m.creds.String()))
	}
	return ok
}

// MarkFaulted records that the session looks broken.
func (m *Manager) MarkFaulted(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return
	}
	m.state = StateFaulted
	m.faultReason = reason
	m.logger.Warn("Session marked faulted.", zap.String("session_id", m.id), zap.String("reason", reason))
}

// Recover tears the browser down and runs Start and Login again. A browser
// that can not be relaunched aborts the session for good; a failed login
// leaves it faulted.
func (m *Manager) Recover(ctx context.Context) bool {
	m.mu.Lock()
	if m.state == StateAborted {
		m.mu.Unlock()
		return false
	}
	m.state = StateRecovering
	m.recoveries++
	attempt, reason := m.recoveries, m.faultReason
	m.mu.Unlock()

	m.logger.Info("Recovering browser session.", zap.Int("attempt", attempt), zap.String("reason", reason))
	start := time.Now()

	m.teardown(ctx)

	if err := m.Start(ctx); err != nil {
		m.mu.Lock()
		m.state = StateAborted
		m.mu.Unlock()
		m.logger.Error("Browser could not be relaunched; aborting session.", zap.Error(err))
		return false
	}

	if !m.Login(ctx) {
		m.mu.Lock()
		if m.state == StateRecovering {
			m.state = StateFaulted
		}
		m.mu.Unlock()
		m.logger.Warn("Sign-in failed during recovery.")
		return false
	}

	m.mu.Lock()
	m.state = StateActive
	m.faultReason = ""
	m.mu.Unlock()
	m.logger.Info("Browser session recovered.", zap.Duration("took", time.Since(start)))
	return true
}

// Stop closes the browser. Calling it again, or before Start, is harmless.
func (m *Manager) Stop(ctx context.Context) {
	m.teardown(ctx)
	m.mu.Lock()
	if m.state != StateAborted {
		m.state = StateStopped
	}
	m.mu.Unlock()
}

// closeTimeout bounds how long teardown waits for the browser to exit.
var closeTimeout = 10 * time.Second

func (m *Manager) teardown(ctx context.Context) {
	m.mu.Lock()
	d, id := m.driver, m.id
	m.driver = nil
	m.authenticated = false
	m.mu.Unlock()

	if d == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		m.logger.Warn("Error while closing the browser.", zap.String("session_id", id), zap.Error(err))
		return
	}
	m.logger.Debug("Browser session closed.", zap.String("session_id", id))
}

func (m *Manager) current() browser.Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driver
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Authenticated reports whether the last login succeeded on the current browser.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// Recoveries counts Recover calls over the manager's lifetime.
func (m *Manager) Recoveries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recoveries
}

// ID identifies the current browser in logs. It changes on every launch.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Page returns a driver bound to whatever browser the manager currently
// runs, so it stays valid across recoveries. Its Close is a no-op.
func (m *Manager) Page() browser.Driver {
	return page{m: m}
}

// page forwards every call to the manager's current driver.
type page struct {
	m *Manager
}

func (p page) driver() (browser.Driver, error) {
	if d := p.m.current(); d != nil {
		return d, nil
	}
	return nil, ErrNotStarted
}

func (p page) Navigate(ctx context.Context, url string) error {
	d, err := p.driver()
	if err != nil {
		return err
	}
	return d.Navigate(ctx, url)
}

func (p page) Exists(ctx context.Context, sel browser.Selector) (bool, error) {
	d, err := p.driver()
	if err != nil {
		return false, err
	}
	return d.Exists(ctx, sel)
}

func (p page) Text(ctx context.Context, sel browser.Selector) (string, error) {
	d, err := p.driver()
	if err != nil {
		return "", err
	}
	return d.Text(ctx, sel)
}

func (p page) Click(ctx context.Context, sel browser.Selector) error {
	d, err := p.driver()
	if err != nil {
		return err
	}
	return d.Click(ctx, sel)
}

func (p page) ScriptClick(ctx context.Context, sel browser.Selector) error {
	d, err := p.driver()
	if err != nil {
		return err
	}
	return d.ScriptClick(ctx, sel)
}

func (p page) ScrollIntoView(ctx context.Context, sel browser.Selector) error {
	d, err := p.driver()
	if err != nil {
		return err
	}
	return d.ScrollIntoView(ctx, sel)
}

func (p page) SendKeys(ctx context.Context, sel browser.Selector, text string) error {
	d, err := p.driver()
	if err != nil {
		return err
	}
	return d.SendKeys(ctx, sel, text)
}

func (p page) Evaluate(ctx context.Context, script string, res any) error {
	d, err := p.driver()
	if err != nil {
		return err
	}
	return d.Evaluate(ctx, script, res)
}

func (p page) SetPageLoadTimeout(d time.Duration) {
	if drv := p.m.current(); drv != nil {
		drv.SetPageLoadTimeout(d)
	}
}

// Close does nothing; the manager owns the browser's lifetime.
func (p page) Close(context.Context) error { return nil }
