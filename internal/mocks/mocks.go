// Package mocks holds testify mocks for the interfaces the batch
// orchestrator depends on.
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scholarsync/api/schemas"
	"github.com/xkilldash9x/scholarsync/internal/actions"
	"github.com/xkilldash9x/scholarsync/internal/resolver"
	"github.com/xkilldash9x/scholarsync/internal/session"
)

// -- Session Mock --

// MockSession mocks the orchestrator's view of session.Manager.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Start(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockSession) Login(ctx context.Context) bool  { return m.Called(ctx).Bool(0) }
func (m *MockSession) MarkFaulted(reason string)       { m.Called(reason) }
func (m *MockSession) Recover(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}
func (m *MockSession) State() session.State {
	args := m.Called()
	if s, ok := args.Get(0).(session.State); ok {
		return s
	}
	return session.StateIdle
}
func (m *MockSession) Recoveries() int { return m.Called().Int(0) }

// -- Resolver Mock --

// MockResolver mocks the title resolver.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, title string) resolver.MatchOutcome {
	return m.Called(ctx, title).Get(0).(resolver.MatchOutcome)
}

// -- Executor Mock --

// MockExecutor mocks the action executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Apply(ctx context.Context) actions.Result {
	return m.Called(ctx).Get(0).(actions.Result)
}

// -- Ledger Mock --

// MockLedger mocks the processed-records ledger.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Contains(key string) bool { return m.Called(key).Bool(0) }
func (m *MockLedger) Commit(entry schemas.LedgerEntry) error {
	return m.Called(entry).Error(0)
}

// -- Run Log Recorder --

// RunLogRecorder captures run log lines in memory. It is a plain fake
// rather than a mock since tests assert on the text, not on calls.
type RunLogRecorder struct {
	mu    sync.Mutex
	lines []string
	Err   error
}

func (r *RunLogRecorder) Printf(format string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
	return nil
}

// Lines returns a copy of the recorded lines.
func (r *RunLogRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
