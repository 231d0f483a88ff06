// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/scholarsync/internal/browser"
)

// Router renders the page for url by populating p after Navigate cleared it.
type Router func(p *Page, url string) error

// Page is a scripted single-tab browser. Elements are keyed by selector query
// and carry their text. Clicks can trigger hooks that mutate the page.
type Page struct {
	mu sync.Mutex

	router   Router
	url      string
	elements map[string]string
	hooks    map[string]func(p *Page)

	clicks       map[string]int
	scriptClicks map[string]int
	typed        map[string]string
	navigations  []string
	scripts      []string

	pageLoadTimeout time.Duration
	closed          bool

	// ExistsErr, when set, is returned from every Exists call.
	ExistsErr error
	// HangOnClose makes Close block until its context is done, like a
	// browser that never answers the close request.
	HangOnClose bool
}

var _ browser.Driver = (*Page)(nil)

// NewPage returns an empty page served by router. A nil router serves blank pages.
func NewPage(router Router) *Page {
	return &Page{
		router:       router,
		elements:     make(map[string]string),
		hooks:        make(map[string]func(p *Page)),
		clicks:       make(map[string]int),
		scriptClicks: make(map[string]int),
		typed:        make(map[string]string),
	}
}

// Set adds or replaces an element. Callable from hooks and routers.
func (p *Page) Set(query, text string) {
	p.elements[query] = text
}

// Remove deletes an element.
func (p *Page) Remove(query string) {
	delete(p.elements, query)
}

// Has reports whether an element is present.
func (p *Page) Has(query string) bool {
	_, ok := p.elements[query]
	return ok
}

// On registers fn to run whenever query is clicked by either click method.
// Hooks run under the page lock and must use the unlocked helpers. Navigate
// drops every hook, so routers register them per page.
func (p *Page) On(query string, fn func(p *Page)) {
	p.hooks[query] = fn
}

// OnClick is the locked variant of On for use outside routers and hooks.
func (p *Page) OnClick(query string, fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.On(query, fn)
}

// Load replaces the page content without recording a navigation, as a
// link followed by a click would.
func (p *Page) Load(url string) {
	p.url = url
	p.elements = make(map[string]string)
	p.hooks = make(map[string]func(p *Page))
}

// TypedText is the unlocked variant of Typed for hooks.
func (p *Page) TypedText(query string) string {
	return p.typed[query]
}

// SetElement is the locked variant of Set for use outside hooks.
func (p *Page) SetElement(query, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Set(query, text)
}

// URL returns the current page address.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Clicks returns how many times query was clicked, natively or by script.
func (p *Page) Clicks(query string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clicks[query] + p.scriptClicks[query]
}

// ScriptClicks returns how many times query was clicked by script.
func (p *Page) ScriptClicks(query string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scriptClicks[query]
}

// TotalClicks counts every click of any kind on any element.
func (p *Page) TotalClicks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.clicks {
		n += c
	}
	for _, c := range p.scriptClicks {
		n += c
	}
	return n
}

// Typed returns the text sent to query.
func (p *Page) Typed(query string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[query]
}

// Navigations lists every URL passed to Navigate.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Scripts lists every script passed to Evaluate.
func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// PageLoadTimeout returns the last value passed to SetPageLoadTimeout.
func (p *Page) PageLoadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageLoadTimeout
}

func (p *Page) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed {
		return fmt.Errorf("browsertest: page is closed")
	}
	return nil
}

// Navigate clears the page and lets the router render url.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	p.navigations = append(p.navigations, url)
	p.Load(url)
	if p.router == nil {
		return nil
	}
	return p.router(p, url)
}

func (p *Page) Exists(ctx context.Context, sel browser.Selector) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return false, err
	}
	if p.ExistsErr != nil {
		return false, p.ExistsErr
	}
	return p.Has(sel.Query), nil
}

func (p *Page) Text(ctx context.Context, sel browser.Selector) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return "", err
	}
	text, ok := p.elements[sel.Query]
	if !ok {
		return "", fmt.Errorf("%s: %w", sel, browser.ErrNotFound)
	}
	return text, nil
}

func (p *Page) click(ctx context.Context, sel browser.Selector, counter map[string]int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	if !p.Has(sel.Query) {
		return fmt.Errorf("%s: %w", sel, browser.ErrNotFound)
	}
	counter[sel.Query]++
	if hook, ok := p.hooks[sel.Query]; ok {
		hook(p)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, sel browser.Selector) error {
	return p.click(ctx, sel, p.clicks)
}

func (p *Page) ScriptClick(ctx context.Context, sel browser.Selector) error {
	return p.click(ctx, sel, p.scriptClicks)
}

func (p *Page) ScrollIntoView(ctx context.Context, sel browser.Selector) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	if !p.Has(sel.Query) {
		return fmt.Errorf("%s: %w", sel, browser.ErrNotFound)
	}
	return nil
}

func (p *Page) SendKeys(ctx context.Context, sel browser.Selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	if !p.Has(sel.Query) {
		return fmt.Errorf("%s: %w", sel, browser.ErrNotFound)
	}
	p.typed[sel.Query] += text
	return nil
}

// Evaluate records the script and leaves res untouched.
func (p *Page) Evaluate(ctx context.Context, script string, res any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	p.scripts = append(p.scripts, script)
	return nil
}

func (p *Page) SetPageLoadTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageLoadTimeout = d
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	hang := p.HangOnClose
	p.closed = true
	p.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}
