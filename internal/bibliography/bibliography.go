// Package bibliography imports PaperRecords from a Zotero CSV export.
package bibliography

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xkilldash9x/scholarsync/api/schemas"
)

// ErrMissingColumn is returned when the export lacks the Key or Title column.
var ErrMissingColumn = errors.New("bibliography is missing a required column")

const (
	columnKey      = "Key"
	columnItemType = "Item Type"
	columnTitle    = "Title"
)

// Import is the outcome of reading an export.
type Import struct {
	// Records are the eligible records in file order.
	Records []schemas.PaperRecord
	// Ineligible counts rows whose item type is not accepted.
	Ineligible int
	// Duplicates counts rows repeating an earlier key.
	Duplicates int
	// Blank counts rows without a key or a title.
	Blank int
}

// Read parses an export. Columns are located by header name, so column order
// and extra columns do not matter. Without an Item Type column every row is
// treated as eligible.
func Read(r io.Reader, accepted []schemas.ItemType) (*Import, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && string(b) == "\ufeff" {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s (empty file)", ErrMissingColumn, columnKey)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	keyCol, ok := index[columnKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, columnKey)
	}
	titleCol, ok := index[columnTitle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, columnTitle)
	}
	typeCol, hasType := index[columnItemType]
	if !hasType {
		accepted = nil
	}

	field := func(row []string, col int) string {
		if col < len(row) {
			return strings.TrimSpace(row[col])
		}
		return ""
	}

	out := &Import{}
	seen := make(map[string]struct{})
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}

		rec := schemas.PaperRecord{
			Key:   field(row, keyCol),
			Title: field(row, titleCol),
		}
		if hasType {
			rec.ItemType = schemas.ItemType(field(row, typeCol))
		}

		if rec.Key == "" || rec.Title == "" {
			out.Blank++
			continue
		}
		if !rec.Eligible(accepted) {
			out.Ineligible++
			continue
		}
		if _, dup := seen[rec.Key]; dup {
			out.Duplicates++
			continue
		}
		seen[rec.Key] = struct{}{}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// ReadFile opens path and calls Read.
func ReadFile(path string, accepted []schemas.ItemType) (*Import, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bibliography: %w", err)
	}
	defer f.Close()

	imp, err := Read(f, accepted)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return imp, nil
}
