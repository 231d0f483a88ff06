package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scholarsync/api/schemas"
	"github.com/xkilldash9x/scholarsync/internal/actions"
	"github.com/xkilldash9x/scholarsync/internal/browser/browsertest"
	"github.com/xkilldash9x/scholarsync/internal/config"
	"github.com/xkilldash9x/scholarsync/internal/ledger"
	"github.com/xkilldash9x/scholarsync/internal/resolver"
	"github.com/xkilldash9x/scholarsync/internal/session"
)

const attention = "Attention Is All You Need"

// batch wires the real components against a scripted site.
type batch struct {
	site    *browsertest.ScholarSite
	session *session.Manager
	ledger  *ledger.Ledger
	runlog  *ledger.RunLog
	dir     string
	orch    *Orchestrator
}

func newBatch(t *testing.T, setup func(site *browsertest.ScholarSite)) *batch {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Scholar.ElementTimeout = 20 * time.Millisecond
	cfg.Scholar.PromptTimeout = 5 * time.Millisecond
	cfg.Scholar.PollInterval = time.Millisecond
	cfg.Batch.WaitTime = 0

	site := browsertest.NewScholarSite(cfg.Scholar)
	// Credentials are taken before setup so a test can rotate the password.
	creds := schemas.Credentials{Email: site.Email, Password: site.Password}
	if setup != nil {
		setup(site)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	dir := t.TempDir()
	led, err := ledger.Open(filepath.Join(dir, "saveDataSC.csv"), logger)
	require.NoError(t, err)
	runlog, err := ledger.OpenRunLog(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)

	mgr := session.New(cfg, site.Factory(), creds, logger)
	page := mgr.Page()

	b := &batch{
		site:    site,
		session: mgr,
		ledger:  led,
		runlog:  runlog,
		dir:     dir,
		orch: New(mgr,
			resolver.New(page, cfg.Scholar, nil, logger),
			actions.New(page, cfg.Scholar, logger),
			led, runlog, cfg.Batch, logger),
	}
	t.Cleanup(func() {
		mgr.Stop(context.Background())
		_ = led.Close()
		_ = runlog.Close()
	})
	return b
}

func (b *batch) run(t *testing.T, records ...schemas.PaperRecord) schemas.FinalReport {
	t.Helper()
	report, err := b.orch.Run(context.Background(), records)
	require.NoError(t, err)
	return report
}

func (b *batch) ledgerFile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(b.dir, "saveDataSC.csv"))
	require.NoError(t, err)
	return string(data)
}

func TestBatchExactMatch(t *testing.T) {
	b := newBatch(t, func(s *browsertest.ScholarSite) { s.Papers[attention] = attention })

	report := b.run(t, record("K1", attention))

	assert.True(t, report.OK(), report.Summary())
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, "\"Key\",\"Title\"\n\"K1\",\"Attention Is All You Need\"\n", b.ledgerFile(t))
	alert, library := b.site.Accounts()
	assert.True(t, alert)
	assert.True(t, library)
}

func TestBatchNearMatch(t *testing.T) {
	b := newBatch(t, func(s *browsertest.ScholarSite) { s.Papers[attention] = attention + "!!" })

	report := b.run(t, record("K1", attention))

	assert.True(t, report.OK(), report.Summary())
	assert.True(t, b.ledger.Contains("K1"))
}

func TestBatchNoResults(t *testing.T) {
	b := newBatch(t, nil)

	report := b.run(t, record("K1", attention))

	assert.False(t, report.Aborted)
	require.Len(t, report.SoftFailures, 1)
	assert.Equal(t, "K1", report.SoftFailures[0].Key)
	assert.False(t, b.ledger.Contains("K1"))
	assert.Equal(t, "\"Key\",\"Title\"\n", b.ledgerFile(t))
	assert.Equal(t, 1, b.site.Launches(), "an empty search is not a session fault")
}

func TestBatchRecoversFromBlockedSession(t *testing.T) {
	b := newBatch(t, func(s *browsertest.ScholarSite) {
		s.Papers[attention] = attention
		s.BlockedSearches = 1
	})

	report := b.run(t, record("K1", attention))

	assert.True(t, report.OK(), report.Summary())
	assert.Equal(t, 1, report.Recoveries)
	assert.Equal(t, 2, b.site.Launches())
	assert.Equal(t, []string{attention, attention}, b.site.Searches())
	assert.True(t, b.ledger.Contains("K1"))
	assert.Equal(t, session.StateActive, b.session.State())
}

func TestBatchPermanentBlockIsBounded(t *testing.T) {
	b := newBatch(t, func(s *browsertest.ScholarSite) {
		s.Papers[attention] = attention
		s.Papers["Deep Residual Learning"] = "Deep Residual Learning"
		s.AlwaysBlocked = true
	})

	report := b.run(t, record("K1", attention), record("K2", "Deep Residual Learning"))

	assert.False(t, report.Aborted)
	assert.Len(t, report.SoftFailures, 2)
	assert.Len(t, b.site.Searches(), 4)
	assert.Equal(t, 2, report.Recoveries)
	assert.Equal(t, 0, b.ledger.Len())
}

func TestBatchSecondRunSkipsLedgerKeys(t *testing.T) {
	b := newBatch(t, func(s *browsertest.ScholarSite) { s.Papers[attention] = attention })
	b.run(t, record("K1", attention))
	require.NoError(t, b.ledger.Close())

	again := newBatch(t, func(s *browsertest.ScholarSite) { s.Papers[attention] = attention })
	// Point the second batch at the first batch's ledger.
	require.NoError(t, again.ledger.Close())
	led, err := ledger.Open(filepath.Join(b.dir, "saveDataSC.csv"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })
	again.orch.ledger = led

	report := again.run(t, record("K1", attention))
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, again.site.Searches())
	assert.Equal(t, "\"Key\",\"Title\"\n\"K1\",\"Attention Is All You Need\"\n", b.ledgerFile(t))
}

func TestBatchWrongPasswordAborts(t *testing.T) {
	b := newBatch(t, func(s *browsertest.ScholarSite) {
		s.Papers[attention] = attention
		s.Password = "changed"
	})

	report := b.run(t, record("K1", attention))

	assert.True(t, report.Aborted)
	assert.Empty(t, b.site.Searches())
	data, err := os.ReadFile(filepath.Join(b.dir, "log.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Unable to connect to Semantic Scholar")
}

// cancelAfterResolve cancels the run as soon as a lookup returns.
type cancelAfterResolve struct {
	Resolver
	cancel context.CancelFunc
}

func (c cancelAfterResolve) Resolve(ctx context.Context, title string) resolver.MatchOutcome {
	outcome := c.Resolver.Resolve(ctx, title)
	c.cancel()
	return outcome
}

func TestBatchInterruptAfterMatchCompletesRecord(t *testing.T) {
	b := newBatch(t, func(s *browsertest.ScholarSite) {
		s.Papers[attention] = attention
		s.Papers["Deep Residual Learning"] = "Deep Residual Learning"
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.orch.resolver = cancelAfterResolve{Resolver: b.orch.resolver, cancel: cancel}

	report, err := b.orch.Run(ctx, []schemas.PaperRecord{record("K1", attention), record("K2", "Deep Residual Learning")})
	require.NoError(t, err)

	alert, library := b.site.Accounts()
	assert.True(t, alert)
	assert.True(t, library)
	assert.Equal(t, 1, report.Added)
	assert.Empty(t, report.SoftFailures)
	assert.True(t, report.Aborted)
	assert.Equal(t, []string{attention}, b.site.Searches())
	assert.Equal(t, "\"Key\",\"Title\"\n\"K1\",\"Attention Is All You Need\"\n", b.ledgerFile(t))
}
