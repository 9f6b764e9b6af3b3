// Package sink persists extracted pages to CSV files and the records table.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

// Target names one persistence destination.
type Target string

const (
	TargetPageCSV     Target = "page_csv"
	TargetCombinedCSV Target = "combined_csv"
	TargetDatabase    Target = "database"
)

var (
	// ErrAlreadyPersisted is returned when a page is offered to a target a second time.
	ErrAlreadyPersisted = errors.New("page already persisted to target")
	// ErrTargetUnavailable is returned by a target that could not be opened for the run.
	ErrTargetUnavailable = errors.New("persistence target unavailable")
)

// PersistenceError reports a failed write of one page to one target.
type PersistenceError struct {
	Target Target
	Page   int
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist page %d to %s: %v", e.Page, e.Target, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// WriteStats is what a target reports after a successful write.
type WriteStats struct {
	Rows    int // rows written
	Skipped int // records the target could not store, e.g. without a key
}

// Writer is one persistence target.
type Writer interface {
	Target() Target
	Write(ctx context.Context, page types.Page) (WriteStats, error)
	Close() error
}

// Recorder receives every target outcome, e.g. the run log.
type Recorder interface {
	RecordPage(ctx context.Context, page int, result TargetResult) error
}

// TargetResult is the outcome of one page on one target.
type TargetResult struct {
	Target  Target
	Rows    int
	Skipped int
	Err     error // *PersistenceError when the write failed
}

// OK reports whether the write succeeded.
func (r TargetResult) OK() bool {
	return r.Err == nil
}

// PersistResult collects the per-target outcomes of one page.
type PersistResult struct {
	Page    int
	Records int
	Targets []TargetResult
}

// Failed returns the targets that did not accept the page.
func (r PersistResult) Failed() []TargetResult {
	var failed []TargetResult
	for _, t := range r.Targets {
		if !t.OK() {
			failed = append(failed, t)
		}
	}
	return failed
}

// AnySucceeded reports whether at least one target stored the page.
func (r PersistResult) AnySucceeded() bool {
	for _, t := range r.Targets {
		if t.OK() {
			return true
		}
	}
	return false
}

// Sink fans each page out to its targets. A page is offered to each target
// at most once per run and a failing target never blocks the others.
type Sink struct {
	writers   []Writer
	recorder  Recorder
	attempted map[Target]map[int]bool
	logger    *logger.Logger
}

// New creates a Sink over the given targets, in write order.
func New(log *logger.Logger, writers ...Writer) *Sink {
	if log == nil {
		log = logger.NewDefault()
	}
	attempted := make(map[Target]map[int]bool, len(writers))
	for _, w := range writers {
		attempted[w.Target()] = make(map[int]bool)
	}
	return &Sink{
		writers:   writers,
		attempted: attempted,
		logger:    log,
	}
}

// SetRecorder registers a Recorder for target outcomes.
func (s *Sink) SetRecorder(r Recorder) {
	s.recorder = r
}

// Targets returns the configured targets in write order.
func (s *Sink) Targets() []Target {
	targets := make([]Target, len(s.writers))
	for i, w := range s.writers {
		targets[i] = w.Target()
	}
	return targets
}

// Persist writes page to every target that has not seen it yet.
func (s *Sink) Persist(ctx context.Context, page types.Page) PersistResult {
	result := PersistResult{Page: page.Number, Records: page.Len()}
	log := s.logger.WithPage(page.Number)

	for _, w := range s.writers {
		target := w.Target()
		tr := TargetResult{Target: target}

		if s.attempted[target][page.Number] {
			tr.Err = &PersistenceError{Target: target, Page: page.Number, Err: ErrAlreadyPersisted}
			result.Targets = append(result.Targets, tr)
			continue
		}
		s.attempted[target][page.Number] = true

		stats, err := w.Write(ctx, page)
		tr.Rows, tr.Skipped = stats.Rows, stats.Skipped
		if err != nil {
			tr.Err = &PersistenceError{Target: target, Page: page.Number, Err: err}
			log.WithTarget(string(target)).Errorw("Failed to persist page", "error", err)
		} else {
			log.WithTarget(string(target)).Debugw("Page persisted", "rows", stats.Rows, "skipped", stats.Skipped)
		}
		if stats.Skipped > 0 {
			log.WithTarget(string(target)).Warnw("Records without a key value were not stored", "skipped", stats.Skipped)
		}

		if s.recorder != nil {
			if err := s.recorder.RecordPage(ctx, page.Number, tr); err != nil {
				log.Warnf("Failed to record page outcome: %v", err)
			}
		}
		result.Targets = append(result.Targets, tr)
	}

	return result
}

// Close closes every target and returns the combined errors.
func (s *Sink) Close() error {
	var errs []error
	for _, w := range s.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", w.Target(), err))
		}
	}
	return errors.Join(errs...)
}
