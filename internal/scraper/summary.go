package scraper

import (
	"sort"
	"time"

	"github.com/dbsmedya/sfrecorder/internal/sink"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID            string
	State            State
	PagesTotal       int
	PagesAttempted   int
	PagesSucceeded   int
	Extracted        []int // page numbers read, in order
	Skipped          []types.PageFailure
	RecordsExtracted int
	RowsPersisted    map[sink.Target]int
	RowsSkipped      map[sink.Target]int
	TargetFailures   map[sink.Target][]int // target -> pages that failed on it
	Targets          []sink.Target
	StoppedEarly     bool
	Interrupted      bool
	StartedAt        time.Time
	Duration         time.Duration
	Err              error
}

func newSummary(run *types.Run, targets []sink.Target) *Summary {
	return &Summary{
		RunID:          run.ID,
		State:          StateStart,
		RowsPersisted:  make(map[sink.Target]int),
		RowsSkipped:    make(map[sink.Target]int),
		TargetFailures: make(map[sink.Target][]int),
		Targets:        targets,
		StartedAt:      run.StartedAt,
	}
}

func (s *Summary) addPersist(res sink.PersistResult) {
	if res.AnySucceeded() {
		s.PagesSucceeded++
	}
	for _, tr := range res.Targets {
		if tr.OK() {
			s.RowsPersisted[tr.Target] += tr.Rows
			s.RowsSkipped[tr.Target] += tr.Skipped
			continue
		}
		s.TargetFailures[tr.Target] = append(s.TargetFailures[tr.Target], res.Page)
	}
}

// SkippedPages returns the skipped page numbers in order.
func (s *Summary) SkippedPages() []int {
	pages := make([]int, len(s.Skipped))
	for i, f := range s.Skipped {
		pages[i] = f.Page
	}
	sort.Ints(pages)
	return pages
}

// FailedTargets returns the targets with at least one failed page.
func (s *Summary) FailedTargets() []sink.Target {
	var targets []sink.Target
	for _, t := range s.Targets {
		if len(s.TargetFailures[t]) > 0 {
			targets = append(targets, t)
		}
	}
	return targets
}

// PartialSuccess reports whether some but not all pages made it through.
func (s *Summary) PartialSuccess() bool {
	return s.PagesSucceeded > 0 && (s.PagesSucceeded < s.PagesTotal || len(s.FailedTargets()) > 0)
}
