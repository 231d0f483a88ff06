package resolver

import (
	"fmt"

	"github.com/agnivade/levenshtein"
)

// Kind classifies the result of one resolution attempt.
type Kind int

const (
	// Matched means the opened paper page carries an accepted title.
	Matched Kind = iota
	// NoResults is a legitimate empty search.
	NoResults
	// AmbiguousOrBlocked means the site did not behave like a healthy session would.
	AmbiguousOrBlocked
	// TitleMismatch means the first result's title is too far from the query.
	TitleMismatch
)

func (k Kind) String() string {
	switch k {
	case Matched:
		return "matched"
	case NoResults:
		return "no results"
	case AmbiguousOrBlocked:
		return "ambiguous or blocked"
	case TitleMismatch:
		return "title mismatch"
	default:
		return "unknown"
	}
}

// MatchOutcome is produced fresh by every Resolve call and never persisted.
type MatchOutcome struct {
	Kind Kind
	// Reason explains AmbiguousOrBlocked outcomes, e.g. the site's error banner.
	Reason string
	// FoundTitle and Distance are set for Matched and TitleMismatch.
	FoundTitle string
	Distance   int
	// PageURL is the opened paper page, when the driver could report it.
	PageURL string
}

// IsSessionFault reports whether the outcome may stem from a broken session
// and warrants a recovery.
func (o MatchOutcome) IsSessionFault() bool {
	return o.Kind == AmbiguousOrBlocked
}

// Describe renders the outcome for the run log and the final report.
func (o MatchOutcome) Describe() string {
	switch o.Kind {
	case Matched:
		return fmt.Sprintf("matched %q (distance %d)", o.FoundTitle, o.Distance)
	case TitleMismatch:
		return fmt.Sprintf("title mismatch: found %q (distance %d)", o.FoundTitle, o.Distance)
	case AmbiguousOrBlocked:
		return "ambiguous or blocked: " + o.Reason
	default:
		return o.Kind.String()
	}
}

// MatchPolicy decides whether a found title corresponds to the queried one.
type MatchPolicy interface {
	Accept(query, found string) (distance int, ok bool)
}

// AbsoluteDistance accepts titles within Max edits of the query, regardless
// of title length.
type AbsoluteDistance struct {
	Max int
}

func (p AbsoluteDistance) Accept(query, found string) (int, bool) {
	d := levenshtein.ComputeDistance(query, found)
	return d, d <= p.Max
}
