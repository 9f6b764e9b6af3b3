package types

import (
	"time"

	"github.com/google/uuid"
)

// RunIDLayout is the timestamp layout used for run identifiers and output file names.
const RunIDLayout = "20060102_150405"

// Run is one end-to-end execution. Only the pagination driver appends to it.
type Run struct {
	ID        string    // timestamp tag, e.g. 20250512_101500
	UUID      uuid.UUID // stable key of the run in the run log tables
	StartedAt time.Time
	Pages     []int         // page numbers extracted, in order
	Failures  []PageFailure // pages skipped after their retries ran out
}

// PageFailure records a page that was skipped after its retries ran out.
type PageFailure struct {
	Page   int
	Reason string
}

// NewRun creates a Run tagged with the given start time.
func NewRun(now time.Time) *Run {
	return &Run{
		ID:        now.Format(RunIDLayout),
		UUID:      uuid.New(),
		StartedAt: now,
	}
}

// AddPage appends an extracted page number.
func (r *Run) AddPage(number int) {
	r.Pages = append(r.Pages, number)
}

// AddFailure records a skipped page.
func (r *Run) AddFailure(number int, reason string) {
	r.Failures = append(r.Failures, PageFailure{Page: number, Reason: reason})
}
