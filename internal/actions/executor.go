// Package actions performs the idempotent account actions on an opened
// paper page.
package actions

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scholarsync/internal/browser"
	"github.com/xkilldash9x/scholarsync/internal/config"
)

// Affordances are the controls the executor looks for. Each list holds the
// label variants of one control, in preference order.
type Affordances struct {
	AlertModal       browser.Selector
	AlertModalCancel browser.Selector
	DisableAlert     []browser.Selector
	ActivateAlert    []browser.Selector
	InLibrary        []browser.Selector
	SaveToLibrary    []browser.Selector
}

// AffordancesFromConfig builds the selectors from configured CSS and labels.
func AffordancesFromConfig(cfg config.ScholarConfig) Affordances {
	return Affordances{
		AlertModal:       browser.CSS(cfg.Selectors.AlertModal),
		AlertModalCancel: browser.CSS(cfg.Selectors.AlertModalCancel),
		DisableAlert:     browser.LabelSelectors(cfg.Labels.DisableAlert),
		ActivateAlert:    browser.LabelSelectors(cfg.Labels.ActivateAlert),
		InLibrary:        browser.LabelSelectors(cfg.Labels.InLibrary),
		SaveToLibrary:    browser.LabelSelectors(cfg.Labels.SaveToLibrary),
	}
}

// Result reports which actions ended in the desired state.
type Result struct {
	Alert   bool
	Library bool
}

// Failed is true when neither action succeeded.
func (r Result) Failed() bool { return !r.Alert && !r.Library }

// Partial is true when exactly one action succeeded.
func (r Result) Partial() bool { return r.Alert != r.Library }

// Executor toggles alert and library state on the current page. Both
// toggles check the "already done" control first, so repeating them never
// clicks twice.
type Executor struct {
	page   browser.Driver
	aff    Affordances
	cfg    config.ScholarConfig
	logger *zap.Logger
}

// New returns an Executor acting on page.
func New(page browser.Driver, cfg config.ScholarConfig, logger *zap.Logger) *Executor {
	return &Executor{
		page:   page,
		aff:    AffordancesFromConfig(cfg),
		cfg:    cfg,
		logger: logger.Named("actions"),
	}
}

// DismissAlertPrompt cancels the create-alert popup when it shows up within
// the prompt timeout. It reports whether a popup was dismissed; a missing
// popup is not an error.
func (e *Executor) DismissAlertPrompt(ctx context.Context) bool {
	shown, err := browser.WaitFor(ctx, e.page, e.aff.AlertModal, e.cfg.PromptTimeout, e.cfg.PollInterval)
	if err != nil || !shown {
		e.logger.Debug("No alert creation popup detected.")
		return false
	}
	if err := e.page.Click(ctx, e.aff.AlertModalCancel); err != nil {
		e.logger.Warn("Could not cancel the alert creation popup.", zap.Error(err))
		return false
	}

	gone, _ := browser.WaitUntil(ctx, func(ctx context.Context) (bool, error) {
		present, err := e.page.Exists(ctx, e.aff.AlertModal)
		return !present, err
	}, e.cfg.PromptTimeout, e.cfg.PollInterval)
	if !gone {
		e.logger.Warn("Alert creation popup is still open after cancelling.")
		return false
	}
	e.logger.Debug("Alert creation popup cancelled.")
	return true
}

// EnsureAlert turns on update alerts for the paper.
func (e *Executor) EnsureAlert(ctx context.Context) bool {
	return e.ensure(ctx, "alert", e.aff.DisableAlert, e.aff.ActivateAlert, e.page.Click)
}

// EnsureSavedToLibrary adds the paper to the library. The click goes through
// page script because transient overlays intercept pointer events there.
func (e *Executor) EnsureSavedToLibrary(ctx context.Context) bool {
	return e.ensure(ctx, "library", e.aff.InLibrary, e.aff.SaveToLibrary, e.page.ScriptClick)
}

func (e *Executor) ensure(
	ctx context.Context,
	name string,
	done, todo []browser.Selector,
	click func(context.Context, browser.Selector) error,
) bool {
	log := e.logger.With(zap.String("action", name))

	if _, ok := browser.FindAnyAffordance(ctx, e.page, done); ok {
		log.Debug("Already enabled.")
		return true
	}

	target, ok := browser.FindAnyAffordance(ctx, e.page, todo)
	if !ok {
		log.Warn("No control found on the page.")
		return false
	}
	if err := click(ctx, target); err != nil {
		log.Warn("Click failed.", zap.String("control", target.Query), zap.Error(err))
		return false
	}

	// Wait for the page to flip to the "done" control so an immediate repeat
	// does not toggle the state back.
	confirmed, _ := browser.WaitUntil(ctx, func(ctx context.Context) (bool, error) {
		_, ok := browser.FindAnyAffordance(ctx, e.page, done)
		return ok, nil
	}, e.cfg.PromptTimeout, e.cfg.PollInterval)
	if !confirmed {
		log.Warn("Click was not confirmed by the page.", zap.String("control", target.Query))
	}
	log.Info("Enabled.", zap.String("control", target.Query))
	return true
}

// Apply dismisses any popup, then runs both actions independently.
func (e *Executor) Apply(ctx context.Context) Result {
	e.DismissAlertPrompt(ctx)
	return Result{
		Alert:   e.EnsureAlert(ctx),
		Library: e.EnsureSavedToLibrary(ctx),
	}
}
