package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const identityPrefix = "id: "

// RunLog is the append-only, human readable log of every run. The first line
// of a fresh log records the account used, so the CLI can offer it again.
type RunLog struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	fresh bool
}

// OpenRunLog opens path for appending, creating it when missing.
func OpenRunLog(path string) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat run log: %w", err)
	}
	return &RunLog{path: path, file: f, fresh: info.Size() == 0}, nil
}

// Begin writes the identity line when the log is fresh. Existing logs keep
// their original identity.
func (r *RunLog) Begin(email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fresh {
		return nil
	}
	if err := r.write(identityPrefix + email); err != nil {
		return err
	}
	r.fresh = false
	return nil
}

// Printf appends one line.
func (r *RunLog) Printf(format string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.write(fmt.Sprintf(format, args...)); err != nil {
		return err
	}
	r.fresh = false
	return nil
}

func (r *RunLog) write(line string) error {
	if r.file == nil {
		return fmt.Errorf("run log %s is closed", r.path)
	}
	if _, err := r.file.WriteString(strings.TrimRight(line, "\n") + "\n"); err != nil {
		return fmt.Errorf("append to run log: %w", err)
	}
	return nil
}

// Close flushes and closes the log. Safe to call more than once.
func (r *RunLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Identity returns the email recorded on the first line of the log at path,
// or "" when the log is missing or has no identity line.
func Identity(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return "", sc.Err()
	}
	first := strings.TrimSpace(sc.Text())
	if !strings.HasPrefix(first, identityPrefix) {
		return "", nil
	}
	return strings.TrimSpace(strings.TrimPrefix(first, identityPrefix)), nil
}
