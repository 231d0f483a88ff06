// File: internal/browser/cdp_driver.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scholarsync/internal/browser/stealth"
	"github.com/xkilldash9x/scholarsync/internal/config"
)

const launchTimeout = 30 * time.Second

// CDPDriver drives a single Chrome tab over the DevTools protocol.
type CDPDriver struct {
	logger *zap.Logger

	// tabCtx is the chromedp context of the only tab. Every action is derived from it.
	tabCtx context.Context
	cancel context.CancelFunc

	mu              sync.RWMutex
	pageLoadTimeout time.Duration
	closeOnce       sync.Once
}

var _ Driver = (*CDPDriver)(nil)

// NewCDPDriver launches Chrome, opens a tab and installs the stealth persona
// on it. The browser outlives ctx; it is released by Close. Launch failures
// are wrapped in ErrDriverInit.
func NewCDPDriver(ctx context.Context, cfg config.BrowserConfig, persona stealth.Persona, logger *zap.Logger) (*CDPDriver, error) {
	l := logger.Named("cdp")

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), AllocatorOptions(cfg, persona)...)

	var ctxOpts []chromedp.ContextOption
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(l.Sugar().Debugf))
	}
	ctxOpts = append(ctxOpts,
		chromedp.WithLogf(l.Sugar().Debugf),
		chromedp.WithErrorf(l.Sugar().Warnf),
	)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	d := &CDPDriver{
		logger: l,
		tabCtx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		pageLoadTimeout: cfg.PageLoadTimeout,
	}

	// The first Run on tabCtx starts the browser, so it must not run on a
	// context that gets cancelled afterwards. Launch is bounded from outside.
	launchCtx, cancelLaunch := context.WithTimeout(ctx, launchTimeout)
	defer cancelLaunch()

	errc := make(chan error, 1)
	go func() {
		errc <- chromedp.Run(tabCtx, stealth.Apply(persona, l), chromedp.Navigate("about:blank"))
	}()

	select {
	case err := <-errc:
		if err != nil {
			d.cancel()
			return nil, fmt.Errorf("%w: %v", ErrDriverInit, err)
		}
	case <-launchCtx.Done():
		d.cancel()
		<-errc
		return nil, fmt.Errorf("%w: %v", ErrDriverInit, launchCtx.Err())
	}

	l.Info("Browser launched.", zap.Bool("headless", cfg.Headless))
	return d, nil
}

// NewCDPFactory returns a Factory launching CDPDrivers with cfg, overridden by
// the per-launch options.
func NewCDPFactory(cfg config.BrowserConfig, logger *zap.Logger) Factory {
	return func(ctx context.Context, opts LaunchOptions) (Driver, error) {
		launchCfg := cfg
		launchCfg.Headless = opts.Headless
		return NewCDPDriver(ctx, launchCfg, opts.Persona, logger)
	}
}

// SetPageLoadTimeout bounds every subsequent action.
func (d *CDPDriver) SetPageLoadTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pageLoadTimeout = timeout
}

func (d *CDPDriver) timeout() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pageLoadTimeout
}

// run executes actions on the tab, cancelled by either the caller's ctx, the
// tab's lifetime, or the page-load timeout.
func (d *CDPDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(d.tabCtx, d.timeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func queryOption(sel Selector) chromedp.QueryOption {
	if sel.Kind == ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// Navigate loads url and waits for the load event.
func (d *CDPDriver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Exists queries the DOM once without waiting.
func (d *CDPDriver) Exists(ctx context.Context, sel Selector) (bool, error) {
	var nodes []*cdp.Node
	err := d.run(ctx, chromedp.Nodes(sel.Query, &nodes, queryOption(sel), chromedp.AtLeast(0)))
	if err != nil {
		return false, fmt.Errorf("query %s: %w", sel, err)
	}
	return len(nodes) > 0, nil
}

func (d *CDPDriver) requirePresent(ctx context.Context, sel Selector) error {
	ok, err := d.Exists(ctx, sel)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", sel, ErrNotFound)
	}
	return nil
}

// Text returns the visible text of the first match.
func (d *CDPDriver) Text(ctx context.Context, sel Selector) (string, error) {
	if err := d.requirePresent(ctx, sel); err != nil {
		return "", err
	}
	var text string
	if err := d.run(ctx, chromedp.Text(sel.Query, &text, queryOption(sel))); err != nil {
		return "", fmt.Errorf("read text of %s: %w", sel, err)
	}
	return text, nil
}

// Click performs a native pointer click on the first match.
func (d *CDPDriver) Click(ctx context.Context, sel Selector) error {
	if err := d.requirePresent(ctx, sel); err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.Click(sel.Query, queryOption(sel), chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// ScriptClick resolves the element in page script and calls its click method.
func (d *CDPDriver) ScriptClick(ctx context.Context, sel Selector) error {
	script, err := elementScript(sel, "el.click(); return true;")
	if err != nil {
		return err
	}
	var clicked bool
	if err := d.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("script click %s: %w", sel, err)
	}
	if !clicked {
		return fmt.Errorf("%s: %w", sel, ErrNotFound)
	}
	return nil
}

// ScrollIntoView scrolls the first match into the viewport.
func (d *CDPDriver) ScrollIntoView(ctx context.Context, sel Selector) error {
	if err := d.requirePresent(ctx, sel); err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.ScrollIntoView(sel.Query, queryOption(sel))); err != nil {
		return fmt.Errorf("scroll to %s: %w", sel, err)
	}
	return nil
}

// SendKeys focuses the first match and types text into it.
func (d *CDPDriver) SendKeys(ctx context.Context, sel Selector, text string) error {
	if err := d.requirePresent(ctx, sel); err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.SendKeys(sel.Query, text, queryOption(sel), chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("type into %s: %w", sel, err)
	}
	return nil
}

// Evaluate runs script in the page and decodes its result into res.
func (d *CDPDriver) Evaluate(ctx context.Context, script string, res any) error {
	if err := d.run(ctx, chromedp.Evaluate(script, res)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// Close terminates the tab and the browser process. Safe to call repeatedly.
func (d *CDPDriver) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			// Graceful close lets Chrome flush its profile before the process is killed.
			_ = chromedp.Cancel(d.tabCtx)
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			d.logger.Warn("Browser did not close gracefully before deadline.")
		}
		d.cancel()
		d.logger.Info("Browser closed.")
	})
	return nil
}

// elementScript wraps body in a function that first locates sel and binds it
// to el. The function returns false when nothing matches.
func elementScript(sel Selector, body string) (string, error) {
	query, err := json.Marshal(sel.Query)
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	lookup := fmt.Sprintf("document.querySelector(%s)", query)
	if sel.Kind == ByXPath {
		lookup = fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", query)
	}
	return fmt.Sprintf("(() => { const el = %s; if (!el) { return false; } %s })()", lookup, body), nil
}
