// Package orchestrator drives a bibliography through the remote index one
// record at a time, keeping the session alive and the ledger current.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scholarsync/api/schemas"
	"github.com/xkilldash9x/scholarsync/internal/actions"
	"github.com/xkilldash9x/scholarsync/internal/config"
	"github.com/xkilldash9x/scholarsync/internal/resolver"
	"github.com/xkilldash9x/scholarsync/internal/session"
)

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("orchestrator already ran")

// Session is the part of session.Manager the batch needs.
type Session interface {
	Start(ctx context.Context) error
	Login(ctx context.Context) bool
	MarkFaulted(reason string)
	Recover(ctx context.Context) bool
	State() session.State
	Recoveries() int
}

// Resolver finds and verifies the paper page for a title.
type Resolver interface {
	Resolve(ctx context.Context, title string) resolver.MatchOutcome
}

// Executor applies the account actions to the opened paper page.
type Executor interface {
	Apply(ctx context.Context) actions.Result
}

// Ledger remembers processed keys across runs.
type Ledger interface {
	Contains(key string) bool
	Commit(entry schemas.LedgerEntry) error
}

// RunLog receives the human readable log lines.
type RunLog interface {
	Printf(format string, args ...any) error
}

// Orchestrator processes records strictly in order on a single session.
type Orchestrator struct {
	session  Session
	resolver Resolver
	executor Executor
	ledger   Ledger
	runlog   RunLog
	cfg      config.BatchConfig
	logger   *zap.Logger

	limiter  *rate.Limiter
	progress chan schemas.ProgressSnapshot

	mu      sync.Mutex
	started bool
}

// New wires an orchestrator. The progress channel is created here so a
// consumer can subscribe before Run starts.
func New(s Session, r Resolver, e Executor, l Ledger, runlog RunLog, cfg config.BatchConfig, logger *zap.Logger) *Orchestrator {
	buffer := cfg.ProgressBuffer
	if buffer < 1 {
		buffer = 1
	}
	return &Orchestrator{
		session:  s,
		resolver: r,
		executor: e,
		ledger:   l,
		runlog:   runlog,
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		limiter:  newLimiter(cfg.WaitTime),
		progress: make(chan schemas.ProgressSnapshot, buffer),
	}
}

// newLimiter paces remote lookups. Spacing is measured from the start of one
// lookup to the start of the next, so the time spent applying actions to a
// record counts toward the wait; there is no fixed sleep after each record.
// The first token is available at once; a zero wait disables pacing.
func newLimiter(wait time.Duration) *rate.Limiter {
	if wait <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(wait), 1)
}

// Progress returns the snapshot stream. It is closed when Run returns.
// Snapshots are dropped, not queued, when the consumer falls behind.
func (o *Orchestrator) Progress() <-chan schemas.ProgressSnapshot {
	return o.progress
}

// Run logs in once and processes every record. Per-record failures land in
// the report; only a session that can not be started, signed in, or
// relaunched aborts the batch. The returned error is non-nil only when the
// browser could not be started at all.
func (o *Orchestrator) Run(ctx context.Context, records []schemas.PaperRecord) (schemas.FinalReport, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return schemas.FinalReport{}, ErrAlreadyRun
	}
	o.started = true
	o.mu.Unlock()
	defer close(o.progress)

	start := time.Now()
	report := schemas.FinalReport{Total: len(records)}
	finish := func() schemas.FinalReport {
		report.Recoveries = o.session.Recoveries()
		report.Duration = time.Since(start)
		return report
	}

	if err := o.session.Start(ctx); err != nil {
		o.abort(&report, "browser could not be started: "+err.Error())
		return finish(), err
	}
	if !o.session.Login(ctx) {
		o.note("Error - Unable to connect to Semantic Scholar.")
		o.abort(&report, "sign-in failed; check the credentials or the connection")
		return finish(), nil
	}

	total := len(records)
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			o.abort(&report, "cancelled: "+err.Error())
			return finish(), nil
		}

		position := i + 1
		log := o.logger.With(zap.String("key", rec.Key), zap.Int("item", position), zap.Int("total", total))

		if o.ledger.Contains(rec.Key) {
			report.Skipped++
			o.note("Skip: %s (Item %d/%d)", rec.Title, position, total)
			log.Debug("Record already in the ledger.")
			o.publish(position, total, start, rec, schemas.StatusSkipped)
			continue
		}

		o.note("Searching: %s (Item %d/%d)", rec.Title, position, total)
		status, hardStop := o.process(ctx, rec, &report, log)
		if hardStop != "" {
			o.abort(&report, hardStop)
			return finish(), nil
		}
		o.publish(position, total, start, rec, status)
	}

	o.note("Finished sending data.")
	o.logger.Info("Batch finished.",
		zap.Int("total", report.Total),
		zap.Int("added", report.Added),
		zap.Int("partial", report.Partial),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.SoftFailures)),
	)
	return finish(), nil
}

// process handles one record that is not in the ledger. A non-empty second
// return value is the reason for a hard abort.
//
// Cancellation of ctx is honoured only while waiting for the next lookup
// slot or before a recovery. Once a lookup starts, the record runs to the
// end on a context detached from ctx, so an interrupt never leaves a half
// processed record in the ledger.
func (o *Orchestrator) process(ctx context.Context, rec schemas.PaperRecord, report *schemas.FinalReport, log *zap.Logger) (schemas.RecordStatus, string) {
	work := context.WithoutCancel(ctx)
	outcome, status, hardStop := o.resolve(ctx, work, rec, log)
	if hardStop != "" || status != "" {
		if status != "" {
			o.fail(report, rec, "There was an error searching on Semantic Scholar ("+outcome.Describe()+").")
		}
		return status, hardStop
	}

	switch outcome.Kind {
	case resolver.NoResults, resolver.TitleMismatch:
		o.fail(report, rec, "There was an error searching on Semantic Scholar ("+outcome.Describe()+").")
		return schemas.StatusFailed, ""
	}

	result := o.executor.Apply(work)
	status = schemas.StatusAdded
	switch {
	case result.Failed():
		o.fail(report, rec, "Could not add alert or save to library.")
		status = schemas.StatusFailed
	case !result.Alert:
		o.note("Could not add alert for '%s', but added it to library.", rec.Title)
		log.Warn("Alert was not activated.")
		report.Partial++
		status = schemas.StatusPartial
	case !result.Library:
		o.note("Could not save '%s' to library, but added it to alert.", rec.Title)
		log.Warn("Paper was not saved to the library.")
		report.Partial++
		status = schemas.StatusPartial
	default:
		report.Added++
	}

	// Matched records are committed even when both actions failed; the
	// failure is already in the report.
	if err := o.ledger.Commit(schemas.LedgerEntry{Key: rec.Key, Title: rec.Title}); err != nil {
		log.Error("Could not write the ledger entry.", zap.Error(err))
		return status, ""
	}
	if status != schemas.StatusFailed {
		o.note("Added '%s' to save file.", rec.Title)
	}
	return status, ""
}

// resolve paces and runs the lookup, recovering the session on faults. It
// returns a non-empty status when the record is already settled as failed.
// Pacing and cancellation checks use ctx; browser work uses work.
func (o *Orchestrator) resolve(ctx, work context.Context, rec schemas.PaperRecord, log *zap.Logger) (resolver.MatchOutcome, schemas.RecordStatus, string) {
	for attempt := 0; ; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return resolver.MatchOutcome{}, "", "cancelled: " + err.Error()
		}

		outcome := o.resolver.Resolve(work, rec.Title)
		if !outcome.IsSessionFault() {
			return outcome, "", ""
		}
		if err := ctx.Err(); err != nil {
			return outcome, "", "cancelled: " + err.Error()
		}
		if attempt >= o.cfg.MaxRecoveriesPerRecord {
			log.Warn("Session still faulted after recovery; giving up on record.", zap.String("reason", outcome.Reason))
			return outcome, schemas.StatusFaulted, ""
		}

		log.Warn("Session fault while resolving; recovering.", zap.String("reason", outcome.Reason), zap.Int("attempt", attempt+1))
		o.session.MarkFaulted(outcome.Reason)
		if !o.session.Recover(work) {
			if o.session.State() == session.StateAborted {
				return outcome, "", "browser could not be relaunched after: " + outcome.Reason
			}
			log.Warn("Session recovery failed; moving on.")
			return outcome, schemas.StatusFaulted, ""
		}
	}
}

func (o *Orchestrator) fail(report *schemas.FinalReport, rec schemas.PaperRecord, reason string) {
	report.AddFailure(rec, reason)
	o.note("Could not add '%s'. %s", rec.Title, reason)
	o.logger.Warn("Record failed.", zap.String("key", rec.Key), zap.String("reason", reason))
}

func (o *Orchestrator) abort(report *schemas.FinalReport, reason string) {
	report.Aborted = true
	report.AbortReason = reason
	o.note("Aborted: %s", reason)
	o.logger.Error("Batch aborted.", zap.String("reason", reason))
}

// note writes to the run log. A failed write is logged; the batch goes on.
func (o *Orchestrator) note(format string, args ...any) {
	if o.runlog == nil {
		return
	}
	if err := o.runlog.Printf(format, args...); err != nil {
		o.logger.Warn("Could not write to the run log.", zap.Error(err), zap.String("line", fmt.Sprintf(format, args...)))
	}
}

func (o *Orchestrator) publish(processed, total int, start time.Time, rec schemas.PaperRecord, status schemas.RecordStatus) {
	snap := schemas.NewProgressSnapshot(processed, total, time.Since(start))
	snap.Current = rec.Title
	snap.Status = status
	select {
	case o.progress <- snap:
	default:
		o.logger.Debug("Progress consumer is behind; snapshot dropped.", zap.Int("processed", processed))
	}
}
