package browsertest

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/xkilldash9x/scholarsync/internal/browser"
	"github.com/xkilldash9x/scholarsync/internal/config"
)

// ScholarSite scripts the sign-in, search and paper pages of the remote
// index. Its account state (alert, library) survives across pages and
// browser launches, like the real account would.
type ScholarSite struct {
	mu  sync.Mutex
	cfg config.ScholarConfig

	// Email and Password are the only credentials the sign-in page accepts.
	Email    string
	Password string

	// Papers maps a search query to the title shown on its first result.
	// Queries missing here render a search page without results.
	Papers map[string]string
	// Errors maps a search query to an error banner shown instead of results.
	Errors map[string]string
	// BlockedSearches is the number of upcoming searches that render a blank
	// page, as a broken session does.
	BlockedSearches int
	// AlwaysBlocked blanks every search page.
	AlwaysBlocked bool
	// NoHeading drops the title heading from paper pages.
	NoHeading bool
	// ShowAlertModal opens the create-alert popup on every paper page.
	ShowAlertModal bool
	// NoAffordances removes both action buttons from paper pages.
	NoAffordances bool
	// ActivateLabel picks which activate-alert label variant is rendered.
	ActivateLabel string

	AlertActive bool
	InLibrary   bool

	// FailLaunch, when set, is consulted on every launch with its 1-based number.
	FailLaunch func(n int) error

	launches int
	searches []string
	pages    []*Page
}

// NewScholarSite returns a site using cfg's addresses, selectors and labels.
func NewScholarSite(cfg config.ScholarConfig) *ScholarSite {
	s := &ScholarSite{
		cfg:      cfg,
		Email:    "reader@example.org",
		Password: "correct horse",
		Papers:   make(map[string]string),
		Errors:   make(map[string]string),
	}
	if len(cfg.Labels.ActivateAlert) > 0 {
		s.ActivateLabel = cfg.Labels.ActivateAlert[0]
	}
	return s
}

// Factory launches a new page on the site per call.
func (s *ScholarSite) Factory() browser.Factory {
	return func(ctx context.Context, _ browser.LaunchOptions) (browser.Driver, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.launches++
		if s.FailLaunch != nil {
			if err := s.FailLaunch(s.launches); err != nil {
				return nil, err
			}
		}
		p := NewPage(s.route)
		s.pages = append(s.pages, p)
		return p, nil
	}
}

// NewPage returns a page on the site without counting a launch.
func (s *ScholarSite) NewPage() *Page {
	p := NewPage(s.route)
	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()
	return p
}

// Launches returns the number of factory calls.
func (s *ScholarSite) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

// Searches lists every query searched for, blocked or not.
func (s *ScholarSite) Searches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.searches...)
}

// LastPage returns the most recently opened page, or nil.
func (s *ScholarSite) LastPage() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pages) == 0 {
		return nil
	}
	return s.pages[len(s.pages)-1]
}

// Update runs fn with the site locked, for changing state mid-test.
func (s *ScholarSite) Update(fn func(s *ScholarSite)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Accounts reports the alert and library state.
func (s *ScholarSite) Accounts() (alert, library bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AlertActive, s.InLibrary
}

func (s *ScholarSite) route(p *Page, rawURL string) error {
	if rawURL == s.cfg.SignInURL {
		s.renderSignIn(p)
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if strings.HasSuffix(u.Path, "/search") {
		s.renderSearch(p, u.Query().Get("q"))
	}
	return nil
}

func (s *ScholarSite) renderSignIn(p *Page) {
	sel := s.cfg.Selectors
	p.Set(sel.EmailField, "")
	p.Set(sel.PasswordField, "")
	signIn := browser.LabelSelector(s.cfg.Labels.SignIn).Query
	p.Set(signIn, s.cfg.Labels.SignIn)
	p.On(signIn, func(p *Page) {
		s.mu.Lock()
		ok := p.TypedText(sel.EmailField) == s.Email && p.TypedText(sel.PasswordField) == s.Password
		s.mu.Unlock()
		if ok {
			p.Load(s.cfg.SiteURL)
			p.Set(sel.LoggedInMarker, "Search")
		}
	})
}

func (s *ScholarSite) renderSearch(p *Page, query string) {
	s.mu.Lock()
	s.searches = append(s.searches, query)
	blocked := s.AlwaysBlocked || s.BlockedSearches > 0
	if s.BlockedSearches > 0 {
		s.BlockedSearches--
	}
	errText, hasErr := s.Errors[query]
	found, hasPaper := s.Papers[query]
	s.mu.Unlock()

	if blocked {
		return
	}

	sel := s.cfg.Selectors
	p.Set(sel.LoggedInMarker, "Search")
	switch {
	case hasErr:
		p.Set(sel.ErrorMessage, errText)
	case hasPaper:
		p.Set(sel.ResultCount, "1 result")
		p.Set(sel.FirstResult, found)
		p.On(sel.FirstResult, func(p *Page) { s.renderPaper(p, found) })
	}
}

func (s *ScholarSite) renderPaper(p *Page, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel := s.cfg.Selectors
	labels := s.cfg.Labels
	p.Load(strings.TrimSuffix(s.cfg.SiteURL, "/") + "/paper/" + url.PathEscape(title))
	p.Set(sel.LoggedInMarker, "Search")
	if !s.NoHeading {
		p.Set(sel.TitleHeading, title)
	}
	if s.ShowAlertModal {
		p.Set(sel.AlertModal, "Create an alert")
		p.Set(sel.AlertModalCancel, "Cancel")
		p.On(sel.AlertModalCancel, func(p *Page) {
			p.Remove(sel.AlertModal)
			p.Remove(sel.AlertModalCancel)
		})
	}
	if s.NoAffordances {
		return
	}

	disable := browser.LabelSelector(labels.DisableAlert[0]).Query
	activate := browser.LabelSelector(s.ActivateLabel).Query
	if s.AlertActive {
		p.Set(disable, labels.DisableAlert[0])
	} else {
		p.Set(activate, s.ActivateLabel)
		p.On(activate, func(p *Page) {
			s.mu.Lock()
			s.AlertActive = true
			s.mu.Unlock()
			p.Remove(activate)
			p.Set(disable, labels.DisableAlert[0])
		})
	}

	inLibrary := browser.LabelSelector(labels.InLibrary[0]).Query
	save := browser.LabelSelector(labels.SaveToLibrary[0]).Query
	if s.InLibrary {
		p.Set(inLibrary, labels.InLibrary[0])
	} else {
		p.Set(save, labels.SaveToLibrary[0])
		p.On(save, func(p *Page) {
			s.mu.Lock()
			s.InLibrary = true
			s.mu.Unlock()
			p.Remove(save)
			p.Set(inLibrary, labels.InLibrary[0])
		})
	}
}
