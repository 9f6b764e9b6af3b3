package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbsmedya/sfrecorder/internal/config"
	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/sink"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

// persistTimeout bounds the writes of one page once it has been extracted.
// They run detached from the run context so an interrupt cannot leave the
// page on some targets only.
const persistTimeout = 2 * time.Minute

// State is a step of the pagination driver.
type State int

const (
	StateStart State = iota
	StateAuthenticating
	StateSearching
	StateExtracting
	StateFinalizing
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAuthenticating:
		return "authenticating"
	case StateSearching:
		return "searching"
	case StateExtracting:
		return "extracting"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionOpener signs on and returns a session.
type SessionOpener interface {
	Authenticate(ctx context.Context, email, password string) (*Session, error)
}

// Searcher submits the query and returns the number of result pages.
type Searcher interface {
	Search(ctx context.Context, s *Session, q Query) (int, error)
}

// PageReader reads one result page.
type PageReader interface {
	Extract(ctx context.Context, s *Session, number int) (types.Page, error)
}

// PageSink persists pages.
type PageSink interface {
	Persist(ctx context.Context, page types.Page) sink.PersistResult
	Targets() []sink.Target
	Close() error
}

// Driver runs one scrape: sign on, search, then extract and persist each
// page before moving to the next. It owns the Run and is its only writer.
type Driver struct {
	auth    SessionOpener
	search  Searcher
	extract PageReader
	sink    PageSink

	credentials config.CredentialsConfig
	query       Query
	retry       config.RetryConfig
	maxPages    int

	run    *types.Run
	state  State
	logger *logger.Logger
	sleep  sleepFunc
}

// DriverConfig bundles the settings the driver needs from the configuration.
type DriverConfig struct {
	Credentials config.CredentialsConfig
	Query       Query
	Retry       config.RetryConfig
	MaxPages    int // 0 means all pages
}

// NewDriver creates a Driver for run.
func NewDriver(run *types.Run, cfg DriverConfig, auth SessionOpener, search Searcher, extract PageReader, out PageSink, log *logger.Logger) (*Driver, error) {
	if run == nil {
		return nil, fmt.Errorf("run is nil")
	}
	if auth == nil || search == nil || extract == nil || out == nil {
		return nil, fmt.Errorf("driver requires an authenticator, navigator, extractor and sink")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Driver{
		auth:        auth,
		search:      search,
		extract:     extract,
		sink:        out,
		credentials: cfg.Credentials,
		query:       cfg.Query,
		retry:       cfg.Retry,
		maxPages:    cfg.MaxPages,
		run:         run,
		state:       StateStart,
		logger:      log.WithRun(run.ID),
		sleep:       sleepContext,
	}, nil
}

// State returns the current state.
func (d *Driver) State() State {
	return d.state
}

func (d *Driver) transition(next State) {
	d.logger.Debugw("State transition", "from", d.state.String(), "to", next.String())
	d.state = next
}

// Run executes the scrape. Session-level failures (sign-on, search) abort
// the run and are returned. Page-level failures are recorded in the summary.
// A cancelled ctx stops the run after the current page.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	summary := newSummary(d.run, d.sink.Targets())
	defer func() {
		summary.State = d.state
		summary.Extracted = d.run.Pages
		summary.Skipped = d.run.Failures
		summary.Duration = time.Since(d.run.StartedAt)
	}()

	// Authenticating
	d.transition(StateAuthenticating)
	session, err := d.auth.Authenticate(ctx, d.credentials.Email, d.credentials.Password)
	if err != nil {
		return d.abort(summary, err)
	}

	// Searching
	d.transition(StateSearching)
	var pages int
	err = retry(ctx, d.retry.NavigationAttempts, d.retry.Backoff, d.sleep,
		func(attempt int, err error) {
			d.logger.Warnw("Search failed, retrying", "attempt", attempt, "error", err)
		},
		func(int) error {
			var searchErr error
			pages, searchErr = d.search.Search(ctx, session, d.query)
			return searchErr
		})
	if err != nil {
		return d.abort(summary, err)
	}

	summary.PagesTotal = pages
	if d.maxPages > 0 && pages > d.maxPages {
		d.logger.Infof("Limiting run to %d of %d pages", d.maxPages, pages)
		summary.PagesTotal = d.maxPages
	}
	d.logger.Infow("Starting extraction", "pages", summary.PagesTotal, "query", d.query.String())

	// Extracting
	d.transition(StateExtracting)
	consecutive := 0
	for number := 1; number <= summary.PagesTotal; number++ {
		if ctx.Err() != nil {
			d.logger.Warn("Context cancelled - stopping after current page")
			summary.Interrupted = true
			break
		}

		summary.PagesAttempted++
		page, err := d.extractPage(ctx, session, number)
		if err != nil {
			if ctx.Err() != nil {
				summary.Interrupted = true
				break
			}
			d.logger.WithPage(number).Errorw("Skipping page", "error", err)
			d.run.AddFailure(number, err.Error())

			consecutive++
			if d.retry.MaxConsecutiveFailures > 0 && consecutive >= d.retry.MaxConsecutiveFailures {
				d.logger.Errorf("%d consecutive pages failed, stopping", consecutive)
				summary.StoppedEarly = true
				break
			}
			continue
		}
		consecutive = 0

		d.run.AddPage(number)
		summary.RecordsExtracted += page.Len()
		res := d.persist(ctx, page)
		summary.addPersist(res)

		d.logger.WithPage(number).Infow("Page complete",
			"records", page.Len(),
			"failed_targets", len(res.Failed()),
		)
	}

	// Finalizing
	d.transition(StateFinalizing)
	if err := d.sink.Close(); err != nil {
		d.logger.Errorf("Failed to finalize outputs: %v", err)
		summary.Err = err
	}

	if summary.Interrupted {
		summary.Err = ctx.Err()
		d.transition(StateAborted)
		return summary, ctx.Err()
	}

	d.transition(StateDone)
	if summary.PagesTotal > 0 && summary.PagesSucceeded == 0 {
		summary.Err = ErrNoPagesPersisted
		return summary, ErrNoPagesPersisted
	}

	d.logger.Infow("Run complete",
		"pages_succeeded", summary.PagesSucceeded,
		"pages_skipped", len(d.run.Failures),
		"records", summary.RecordsExtracted,
	)
	return summary, nil
}

func (d *Driver) persist(ctx context.Context, page types.Page) sink.PersistResult {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return d.sink.Persist(pctx, page)
}

// extractPage reads one page, retrying with re-navigation.
func (d *Driver) extractPage(ctx context.Context, session *Session, number int) (types.Page, error) {
	var page types.Page
	err := retry(ctx, d.retry.ExtractionAttempts, d.retry.Backoff, d.sleep,
		func(attempt int, err error) {
			d.logger.WithPage(number).Warnw("Extraction failed, retrying", "attempt", attempt, "error", err)
		},
		func(int) error {
			var extractErr error
			page, extractErr = d.extract.Extract(ctx, session, number)
			return extractErr
		})
	if err != nil {
		var exErr *ExtractionError
		if !errors.As(err, &exErr) {
			err = &ExtractionError{Page: number, Err: err}
		}
		return types.Page{}, err
	}
	return page, nil
}

func (d *Driver) abort(summary *Summary, err error) (*Summary, error) {
	d.logger.Errorw("Run aborted", "state", d.state.String(), "error", err)
	if closeErr := d.sink.Close(); closeErr != nil {
		d.logger.Warnf("Failed to close outputs: %v", closeErr)
	}
	summary.Err = err
	d.transition(StateAborted)
	return summary, err
}
