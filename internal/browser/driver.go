// File: internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/scholarsync/internal/browser/stealth"
)

// ErrDriverInit is returned when the browser process can not be launched.
var ErrDriverInit = errors.New("browser driver failed to initialize")

// ErrNotFound is returned by element operations when the selector matches nothing.
var ErrNotFound = errors.New("element not found")

// By selects how a Selector query is interpreted.
type By int

const (
	// ByQuery is a CSS selector.
	ByQuery By = iota
	// ByXPath is an XPath expression.
	ByXPath
)

func (b By) String() string {
	if b == ByXPath {
		return "xpath"
	}
	return "css"
}

// Selector locates a single element on the current page.
type Selector struct {
	Query string
	Kind  By
}

// CSS returns a CSS selector.
func CSS(query string) Selector { return Selector{Query: query, Kind: ByQuery} }

// XPath returns an XPath selector.
func XPath(expr string) Selector { return Selector{Query: expr, Kind: ByXPath} }

// LabelSelector matches the span carrying a button's visible label.
func LabelSelector(label string) Selector {
	return XPath(fmt.Sprintf("//span[text()=%s]", xpathLiteral(label)))
}

// LabelSelectors maps each label to its LabelSelector, preserving order.
func LabelSelectors(labels []string) []Selector {
	out := make([]Selector, 0, len(labels))
	for _, l := range labels {
		out = append(out, LabelSelector(l))
	}
	return out
}

func (s Selector) String() string {
	return s.Kind.String() + ":" + s.Query
}

// xpathLiteral quotes s for use inside an XPath expression. Labels containing
// both quote kinds are assembled with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// Driver is the page automation capability used by the session, resolver and
// action layers. Implementations drive exactly one tab and are not safe for
// concurrent use.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Exists reports whether sel currently matches an element. It never waits.
	Exists(ctx context.Context, sel Selector) (bool, error)
	Text(ctx context.Context, sel Selector) (string, error)
	// Click dispatches a native pointer click.
	Click(ctx context.Context, sel Selector) error
	// ScriptClick calls element.click() from page script, bypassing overlays
	// that would intercept a pointer event.
	ScriptClick(ctx context.Context, sel Selector) error
	ScrollIntoView(ctx context.Context, sel Selector) error
	SendKeys(ctx context.Context, sel Selector, text string) error
	Evaluate(ctx context.Context, script string, res any) error
	SetPageLoadTimeout(d time.Duration)
	Close(ctx context.Context) error
}

// LaunchOptions are the per-start settings the session manager controls.
type LaunchOptions struct {
	Headless bool
	Persona  stealth.Persona
}

// Factory launches a fresh Driver.
type Factory func(ctx context.Context, opts LaunchOptions) (Driver, error)
