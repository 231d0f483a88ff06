package schemas

import (
	"fmt"
	"strings"
	"time"
)

// SoftFailure is a per-record failure that did not abort the batch.
type SoftFailure struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// FinalReport summarizes a whole run.
type FinalReport struct {
	Total        int           `json:"total"`
	Skipped      int           `json:"skipped"`
	Added        int           `json:"added"`
	Partial      int           `json:"partial"`
	Recoveries   int           `json:"recoveries"`
	SoftFailures []SoftFailure `json:"soft_failures"`
	Aborted      bool          `json:"aborted"`
	AbortReason  string        `json:"abort_reason,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// OK is true when the run completed and no record failed.
func (r FinalReport) OK() bool {
	return !r.Aborted && len(r.SoftFailures) == 0
}

// AddFailure records a soft failure.
func (r *FinalReport) AddFailure(rec PaperRecord, reason string) {
	r.SoftFailures = append(r.SoftFailures, SoftFailure{Key: rec.Key, Title: rec.Title, Reason: reason})
}

// Summary renders the end-of-run text listing every soft failure by title.
func (r FinalReport) Summary() string {
	var b strings.Builder
	if r.Aborted {
		fmt.Fprintf(&b, "Run aborted: %s\n", r.AbortReason)
	}
	fmt.Fprintf(&b, "Processed %d records: %d added, %d partial, %d skipped, %d failed.\n",
		r.Total, r.Added, r.Partial, r.Skipped, len(r.SoftFailures))
	for _, f := range r.SoftFailures {
		fmt.Fprintf(&b, "Could not add '%s': %s\n", f.Title, f.Reason)
	}
	return b.String()
}
