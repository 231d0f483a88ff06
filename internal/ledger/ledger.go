// Package ledger persists the keys of bibliography records that were already
// reconciled, so later runs can skip them.
package ledger

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scholarsync/api/schemas"
)

// ErrLocked is returned by Open when another process holds the ledger.
var ErrLocked = errors.New("ledger is in use by another run")

var header = []string{"Key", "Title"}

// Ledger is an append-only CSV of processed records. It holds an exclusive
// lock on "<path>.lock" from Open until Close. Methods are safe for
// concurrent use, though the orchestrator only ever writes from one goroutine.
type Ledger struct {
	path   string
	logger *zap.Logger
	lock   *flock.Flock

	mu      sync.Mutex
	file    *os.File
	keys    map[string]struct{}
	entries []schemas.LedgerEntry
	// needsNewline is set when an existing file does not end with a line break.
	needsNewline bool
}

// Open locks the ledger at path, creates it with a header when missing, and
// loads its keys. A parse failure is returned as an error since the dedup
// index would be unreliable.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		path:   path,
		logger: logger.Named("ledger"),
		lock:   flock.New(path + ".lock"),
		keys:   make(map[string]struct{}),
	}

	locked, err := l.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}

	if err := l.load(); err != nil {
		_ = l.lock.Unlock()
		return nil, err
	}

	l.logger.Info("Ledger opened.", zap.String("path", path), zap.Int("entries", len(l.entries)))
	return l, nil
}

func (l *Ledger) load() error {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat ledger: %w", err)
	}

	if info.Size() == 0 {
		if _, err := f.WriteString(formatRow(header)); err != nil {
			f.Close()
			return fmt.Errorf("write ledger header: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync ledger: %w", err)
		}
		l.file = f
		return nil
	}

	entries, err := parse(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("parse ledger %s: %w", l.path, err)
	}
	l.entries = distinct(entries)
	for _, e := range l.entries {
		l.keys[e.Key] = struct{}{}
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
		l.needsNewline = true
	}

	l.file = f
	return nil
}

// parse reads ledger rows, tolerating the `"K", "T"` spacing older files use.
func parse(r io.Reader) ([]schemas.LedgerEntry, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var entries []schemas.LedgerEntry
	first := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if len(row) >= 1 && strings.EqualFold(strings.Trim(strings.TrimPrefix(row[0], "\ufeff"), `"`), header[0]) {
				continue
			}
		}
		key := strings.TrimSpace(row[0])
		if key == "" {
			continue
		}
		entry := schemas.LedgerEntry{Key: key}
		if len(row) > 1 {
			entry.Title = row[1]
		}
		entries = append(entries, entry)
	}
}

// distinct keeps the first entry of every key, in file order.
func distinct(entries []schemas.LedgerEntry) []schemas.LedgerEntry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if _, dup := seen[e.Key]; dup {
			continue
		}
		seen[e.Key] = struct{}{}
		out = append(out, e)
	}
	return out
}

// ReadEntries parses the ledger at path without locking it and returns one
// entry per key, in file order. A missing file yields no entries.
func ReadEntries(path string) ([]schemas.LedgerEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	entries, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	return distinct(entries), nil
}

// Contains reports whether key was already processed.
func (l *Ledger) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key]
	return ok
}

// Len returns the number of distinct keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Commit appends entry and syncs it to disk. Keys already present are
// ignored, so a key appears at most once. The key only joins the in-memory
// set once the write succeeded.
func (l *Ledger) Commit(entry schemas.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("ledger %s is closed", l.path)
	}
	entry.Key = strings.TrimSpace(entry.Key)
	if entry.Key == "" {
		return fmt.Errorf("ledger entry has an empty key")
	}
	if _, ok := l.keys[entry.Key]; ok {
		return nil
	}

	line := formatRow([]string{entry.Key, entry.Title})
	if l.needsNewline {
		line = "\n" + line
	}
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("append to ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	l.needsNewline = false

	l.keys[entry.Key] = struct{}{}
	l.entries = append(l.entries, entry)
	l.logger.Debug("Ledger entry committed.", zap.String("key", entry.Key))
	return nil
}

// Close releases the file and the lock. Safe to call more than once.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
		l.file = nil
	}
	if l.lock.Locked() {
		if err := l.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release ledger lock: %w", err))
		}
	}
	return errors.Join(errs...)
}

// formatRow quotes every field, doubling embedded quotes. Line breaks inside
// a field are flattened so that each record stays on one line.
func formatRow(fields []string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		f = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(f)
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.String()
}
