package resolver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scholarsync/internal/browser/browsertest"
	"github.com/xkilldash9x/scholarsync/internal/config"
)

const attention = "Attention Is All You Need"

func scholarConfig() config.ScholarConfig {
	cfg := config.NewDefaultConfig().Scholar
	cfg.ElementTimeout = 20 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	return cfg
}

func newResolver(t *testing.T) (*Resolver, *browsertest.ScholarSite, *browsertest.Page) {
	t.Helper()
	cfg := scholarConfig()
	site := browsertest.NewScholarSite(cfg)
	page := site.NewPage()
	return New(page, cfg, nil, zap.NewNop()), site, page
}

func TestSearchURL(t *testing.T) {
	r, _, _ := newResolver(t)
	assert.Equal(t,
		"https://www.semanticscholar.org/search?q=Attention+Is+All+You+Need&sort=relevance",
		r.SearchURL(attention))
	assert.Equal(t,
		"https://www.semanticscholar.org/search?q=R%26D%3F+50%25+off&sort=relevance",
		r.SearchURL("R&D? 50% off"))

	cfg := scholarConfig()
	cfg.SiteURL = "http://localhost:8080"
	noSlash := New(nil, cfg, nil, zap.NewNop())
	assert.Equal(t, "http://localhost:8080/search?q=x&sort=relevance", noSlash.SearchURL("x"))
}

func TestResolveMatched(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		found    string
		distance int
		kind     Kind
	}{
		{"exact title", attention, 0, Matched},
		{"trailing punctuation", attention + "!!", 2, Matched},
		{"ten edits", attention + strings.Repeat("x", 10), 10, Matched},
		{"eleven edits", attention + strings.Repeat("x", 11), 11, TitleMismatch},
		{"different paper", "BERT: Pre-training of Deep Bidirectional Transformers", 0, TitleMismatch},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, site, page := newResolver(t)
			site.Papers[attention] = tc.found

			outcome := r.Resolve(ctx, attention)
			assert.Equal(t, tc.kind, outcome.Kind, outcome.Describe())
			assert.Equal(t, tc.found, outcome.FoundTitle)
			if tc.distance > 0 || tc.kind == Matched {
				assert.Equal(t, tc.distance, outcome.Distance)
			}
			assert.False(t, outcome.IsSessionFault())

			// The first result is opened by script, never by a native click.
			first := scholarConfig().Selectors.FirstResult
			assert.Equal(t, 0, page.Clicks(first)-page.ScriptClicks(first))
			assert.Equal(t, 1, page.ScriptClicks(first))
			assert.Contains(t, page.URL(), "/paper/")
		})
	}
}

func TestResolveFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no results", func(t *testing.T) {
		r, site, _ := newResolver(t)
		outcome := r.Resolve(ctx, attention)
		assert.Equal(t, NoResults, outcome.Kind)
		assert.False(t, outcome.IsSessionFault())
		assert.Equal(t, []string{attention}, site.Searches())
	})

	t.Run("error banner", func(t *testing.T) {
		r, site, _ := newResolver(t)
		site.Errors[attention] = "  Too many requests  "
		outcome := r.Resolve(ctx, attention)
		assert.Equal(t, AmbiguousOrBlocked, outcome.Kind)
		assert.Equal(t, "Too many requests", outcome.Reason)
		assert.True(t, outcome.IsSessionFault())
	})

	t.Run("blank search page", func(t *testing.T) {
		r, site, _ := newResolver(t)
		site.Papers[attention] = attention
		site.AlwaysBlocked = true
		outcome := r.Resolve(ctx, attention)
		assert.Equal(t, AmbiguousOrBlocked, outcome.Kind)
		assert.Equal(t, "search page did not render", outcome.Reason)
	})

	t.Run("no title heading", func(t *testing.T) {
		r, site, _ := newResolver(t)
		site.Papers[attention] = attention
		site.NoHeading = true
		outcome := r.Resolve(ctx, attention)
		assert.Equal(t, AmbiguousOrBlocked, outcome.Kind)
		assert.Equal(t, "no title heading", outcome.Reason)
	})

	t.Run("navigation failure", func(t *testing.T) {
		r, _, page := newResolver(t)
		require.NoError(t, page.Close(ctx))
		outcome := r.Resolve(ctx, attention)
		assert.Equal(t, AmbiguousOrBlocked, outcome.Kind)
		assert.Contains(t, outcome.Reason, "search navigation failed")
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		r, _, _ := newResolver(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		outcome := r.Resolve(cctx, attention)
		assert.Equal(t, AmbiguousOrBlocked, outcome.Kind)
	})
}

type rejectAll struct{ calls int }

func (p *rejectAll) Accept(query, found string) (int, bool) {
	p.calls++
	return 0, false
}

func TestResolveUsesPolicy(t *testing.T) {
	cfg := scholarConfig()
	site := browsertest.NewScholarSite(cfg)
	site.Papers[attention] = attention
	policy := &rejectAll{}

	r := New(site.NewPage(), cfg, policy, zap.NewNop())
	outcome := r.Resolve(context.Background(), attention)
	assert.Equal(t, TitleMismatch, outcome.Kind)
	assert.Equal(t, 1, policy.calls)
}

func TestAbsoluteDistance(t *testing.T) {
	testCases := []struct {
		query, found string
		distance     int
		ok           bool
	}{
		{"abc", "abc", 0, true},
		{"kitten", "sitting", 3, true},
		{"", "0123456789", 10, true},
		{"", "0123456789a", 11, false},
		{"Über", "Uber", 1, true},
	}
	for _, tc := range testCases {
		d, ok := AbsoluteDistance{Max: config.NewDefaultConfig().Scholar.MaxTitleDistance}.Accept(tc.query, tc.found)
		assert.Equal(t, tc.distance, d, "%q vs %q", tc.query, tc.found)
		assert.Equal(t, tc.ok, ok, "%q vs %q", tc.query, tc.found)
	}

	strict := AbsoluteDistance{Max: 0}
	_, ok := strict.Accept("abc", "abd")
	assert.False(t, ok)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "no results", MatchOutcome{Kind: NoResults}.Describe())
	assert.Equal(t, "ambiguous or blocked: no title heading", MatchOutcome{Kind: AmbiguousOrBlocked, Reason: "no title heading"}.Describe())
	assert.Contains(t, MatchOutcome{Kind: TitleMismatch, FoundTitle: "X", Distance: 12}.Describe(), "distance 12")
}
