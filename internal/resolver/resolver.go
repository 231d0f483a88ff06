// Package resolver finds the remote paper page for a bibliography title and
// verifies that it is the same paper.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scholarsync/internal/browser"
	"github.com/xkilldash9x/scholarsync/internal/config"
)

// Resolver runs the search, open-first-result, verify-title protocol.
type Resolver struct {
	page   browser.Driver
	cfg    config.ScholarConfig
	policy MatchPolicy
	logger *zap.Logger
}

// New returns a Resolver acting on page. A nil policy uses AbsoluteDistance
// with cfg.MaxTitleDistance.
func New(page browser.Driver, cfg config.ScholarConfig, policy MatchPolicy, logger *zap.Logger) *Resolver {
	if policy == nil {
		policy = AbsoluteDistance{Max: cfg.MaxTitleDistance}
	}
	return &Resolver{
		page:   page,
		cfg:    cfg,
		policy: policy,
		logger: logger.Named("resolver"),
	}
}

// SearchURL embeds the raw title, URL-escaped, in the relevance-sorted search.
func (r *Resolver) SearchURL(title string) string {
	base := r.cfg.SiteURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + fmt.Sprintf(r.cfg.SearchPath, url.QueryEscape(title))
}

func blocked(reason string) MatchOutcome {
	return MatchOutcome{Kind: AmbiguousOrBlocked, Reason: reason}
}

// Resolve never returns an error: every failure is an outcome. Only
// AmbiguousOrBlocked outcomes point at the session.
func (r *Resolver) Resolve(ctx context.Context, title string) MatchOutcome {
	log := r.logger.With(zap.String("title", title))
	sel := r.cfg.Selectors
	timeout, poll := r.cfg.ElementTimeout, r.cfg.PollInterval

	if err := r.page.Navigate(ctx, r.SearchURL(title)); err != nil {
		log.Warn("Search navigation failed.", zap.Error(err))
		return blocked("search navigation failed: " + err.Error())
	}

	found, err := browser.WaitFor(ctx, r.page, browser.CSS(sel.ResultCount), timeout, poll)
	if err != nil {
		return blocked("cancelled: " + err.Error())
	}
	if !found {
		return r.classifyEmptySearch(ctx, log)
	}

	first := browser.CSS(sel.FirstResult)
	if ok, _ := r.page.Exists(ctx, first); !ok {
		log.Warn("Results were counted but no first result is present.")
		return blocked("no first result")
	}
	if err := r.page.ScrollIntoView(ctx, first); err != nil {
		log.Debug("Could not scroll to the first result.", zap.Error(err))
	}
	if err := r.page.ScriptClick(ctx, first); err != nil {
		log.Warn("Could not open the first result.", zap.Error(err))
		return blocked("could not open first result")
	}

	heading := browser.CSS(sel.TitleHeading)
	found, err = browser.WaitFor(ctx, r.page, heading, timeout, poll)
	if err != nil {
		return blocked("cancelled: " + err.Error())
	}
	if !found {
		log.Warn("Paper page has no title heading.")
		return blocked("no title heading")
	}

	foundTitle, err := r.page.Text(ctx, heading)
	if err != nil {
		log.Warn("Could not read the title heading.", zap.Error(err))
		return blocked("no title heading")
	}
	foundTitle = strings.TrimSpace(foundTitle)

	outcome := MatchOutcome{FoundTitle: foundTitle, PageURL: r.currentURL(ctx)}
	distance, ok := r.policy.Accept(title, foundTitle)
	outcome.Distance = distance
	if ok {
		outcome.Kind = Matched
		log.Info("Title matched.", zap.String("found", foundTitle), zap.Int("distance", distance))
	} else {
		outcome.Kind = TitleMismatch
		log.Info("Title mismatch.", zap.String("found", foundTitle), zap.Int("distance", distance))
	}
	return outcome
}

// classifyEmptySearch tells an honest empty result page from a broken one.
// The site's error banner and a missing search box both indicate the latter.
func (r *Resolver) classifyEmptySearch(ctx context.Context, log *zap.Logger) MatchOutcome {
	sel := r.cfg.Selectors

	errBanner := browser.CSS(sel.ErrorMessage)
	if ok, _ := r.page.Exists(ctx, errBanner); ok {
		text, _ := r.page.Text(ctx, errBanner)
		text = strings.TrimSpace(text)
		if text == "" {
			text = "site returned an error"
		}
		log.Warn("Search returned an error message.", zap.String("error", text))
		return blocked(text)
	}

	if ok, _ := r.page.Exists(ctx, browser.CSS(sel.LoggedInMarker)); !ok {
		log.Warn("Search page did not render.")
		return blocked("search page did not render")
	}

	log.Info("No results.")
	return MatchOutcome{Kind: NoResults}
}

func (r *Resolver) currentURL(ctx context.Context) string {
	var href string
	if err := r.page.Evaluate(ctx, "window.location.href", &href); err != nil {
		return ""
	}
	return href
}
