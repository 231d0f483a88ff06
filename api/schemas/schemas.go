package schemas

import (
	"fmt"
	"strings"
	"time"
)

// ItemType is the Zotero item type of a bibliography entry.
type ItemType string

const (
	ItemJournalArticle  ItemType = "journalArticle"
	ItemConferencePaper ItemType = "conferencePaper"
	ItemBookSection     ItemType = "bookSection"
	ItemPreprint        ItemType = "preprint"
	ItemThesis          ItemType = "thesis"
	ItemBook            ItemType = "book"
)

// DefaultAcceptedItemTypes lists the item types that can be found on the remote index.
var DefaultAcceptedItemTypes = []ItemType{
	ItemJournalArticle,
	ItemConferencePaper,
	ItemBookSection,
	ItemPreprint,
	ItemThesis,
	ItemBook,
}

// PaperRecord is one bibliography entry to reconcile. Values are never mutated after import.
type PaperRecord struct {
	Key      string   `json:"key"`
	Title    string   `json:"title"`
	ItemType ItemType `json:"item_type"`
}

// Eligible reports whether the record's item type is in the accepted set.
// An empty accepted set accepts everything.
func (r PaperRecord) Eligible(accepted []ItemType) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, t := range accepted {
		if t == r.ItemType {
			return true
		}
	}
	return false
}

// Credentials identifies the remote account. They are supplied once per run and never persisted.
type Credentials struct {
	Email    string
	Password string
}

// Validate checks that both fields were provided.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Email) == "" || strings.TrimSpace(c.Password) == "" {
		return fmt.Errorf("email and password are both required")
	}
	return nil
}

// String masks the password so credentials can be logged safely.
func (c Credentials) String() string {
	return fmt.Sprintf("%s:****", c.Email)
}

// LedgerEntry is one persisted, processed record.
type LedgerEntry struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

// RecordStatus is the outcome of processing a single record.
type RecordStatus string

const (
	StatusSkipped RecordStatus = "skipped"
	StatusAdded   RecordStatus = "added"
	StatusPartial RecordStatus = "partial"
	StatusFailed  RecordStatus = "failed"
	// StatusFaulted marks a record that still hit a session fault after its recovery attempt.
	StatusFaulted RecordStatus = "faulted"
)

// ProgressSnapshot is emitted after every record. It is transient and never persisted.
type ProgressSnapshot struct {
	Processed          int           `json:"processed"`
	Total              int           `json:"total"`
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
	Current            string        `json:"current"`
	Status             RecordStatus  `json:"status"`
}

// NewProgressSnapshot computes the remaining-time estimate from the average time per processed record.
func NewProgressSnapshot(processed, total int, elapsed time.Duration) ProgressSnapshot {
	snap := ProgressSnapshot{Processed: processed, Total: total, Elapsed: elapsed}
	if processed > 0 && total > processed {
		perRecord := elapsed / time.Duration(processed)
		snap.EstimatedRemaining = perRecord * time.Duration(total-processed)
	}
	return snap
}

// Percent returns completion in the range [0, 100].
func (p ProgressSnapshot) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Processed) * 100 / float64(p.Total)
}
