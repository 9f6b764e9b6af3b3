package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/sqlutil"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

// RunStatus is the lifecycle state of a run in the run log.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
)

// PageStatus is the outcome of one page on one target.
type PageStatus string

const (
	PageStatusCompleted PageStatus = "completed"
	PageStatusFailed    PageStatus = "failed"
)

const createRunTableMySQL = `
CREATE TABLE IF NOT EXISTS recorder_run (
	run_id VARCHAR(32) PRIMARY KEY,
	run_uuid CHAR(36) NOT NULL,
	run_status VARCHAR(20) NOT NULL DEFAULT 'running',
	from_date VARCHAR(10),
	to_date VARCHAR(10),
	pages_total INT NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NULL,
	error_message TEXT,
	INDEX idx_status (run_status)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
`

const createRunPageTableMySQL = `
CREATE TABLE IF NOT EXISTS recorder_run_page (
	run_id VARCHAR(32) NOT NULL,
	page INT NOT NULL,
	target VARCHAR(20) NOT NULL,
	page_status VARCHAR(20) NOT NULL,
	rows_written INT NOT NULL DEFAULT 0,
	rows_skipped INT NOT NULL DEFAULT 0,
	error_message TEXT,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, page, target),
	INDEX idx_run_status (run_id, target, page_status),
	FOREIGN KEY (run_id) REFERENCES recorder_run(run_id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
`

const createRunTablePostgres = `
CREATE TABLE IF NOT EXISTS recorder_run (
	run_id VARCHAR(32) PRIMARY KEY,
	run_uuid UUID NOT NULL,
	run_status VARCHAR(20) NOT NULL DEFAULT 'running',
	from_date VARCHAR(10),
	to_date VARCHAR(10),
	pages_total INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NULL,
	error_message TEXT
)
`

const createRunPageTablePostgres = `
CREATE TABLE IF NOT EXISTS recorder_run_page (
	run_id VARCHAR(32) NOT NULL REFERENCES recorder_run(run_id) ON DELETE CASCADE,
	page INTEGER NOT NULL,
	target VARCHAR(20) NOT NULL,
	page_status VARCHAR(20) NOT NULL,
	rows_written INTEGER NOT NULL DEFAULT 0,
	rows_skipped INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, page, target)
)
`

// RunInfo is a run as stored in the run log.
type RunInfo struct {
	RunID      string
	UUID       string
	Status     RunStatus
	FromDate   string
	ToDate     string
	PagesTotal int
	StartedAt  time.Time
}

// RunLog records runs and per-page target outcomes so database writes
// that failed can be replayed later from the page CSVs.
type RunLog struct {
	db      *sql.DB
	dialect sqlutil.Dialect
	runID   string
	logger  *logger.Logger
	now     func() time.Time
}

// NewRunLog creates a run log bound to runID.
func NewRunLog(db *sql.DB, dialect sqlutil.Dialect, runID string, log *logger.Logger) (*RunLog, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &RunLog{db: db, dialect: dialect, runID: runID, logger: log, now: time.Now}, nil
}

// bind rewrites ? markers to the dialect's placeholders.
func (l *RunLog) bind(query string) string {
	if l.dialect != sqlutil.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(l.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InitializeTables creates the run log tables if they don't exist.
func (l *RunLog) InitializeTables(ctx context.Context) error {
	runDDL, pageDDL := createRunTableMySQL, createRunPageTableMySQL
	if l.dialect == sqlutil.Postgres {
		runDDL, pageDDL = createRunTablePostgres, createRunPageTablePostgres
	}

	if _, err := l.db.ExecContext(ctx, runDDL); err != nil {
		return fmt.Errorf("failed to create recorder_run table: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, pageDDL); err != nil {
		return fmt.Errorf("failed to create recorder_run_page table: %w", err)
	}

	l.logger.Debug("Run log tables initialized")
	return nil
}

// StartRun inserts the run row.
func (l *RunLog) StartRun(ctx context.Context, run *types.Run, fromDate, toDate string) error {
	_, err := l.db.ExecContext(ctx,
		l.bind("INSERT INTO recorder_run (run_id, run_uuid, run_status, from_date, to_date, started_at) VALUES (?, ?, ?, ?, ?, ?)"),
		run.ID, run.UUID.String(), string(RunStatusRunning), fromDate, toDate, run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final status of the run.
func (l *RunLog) FinishRun(ctx context.Context, status RunStatus, pagesTotal int, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		l.bind("UPDATE recorder_run SET run_status = ?, pages_total = ?, finished_at = ?, error_message = ? WHERE run_id = ?"),
		string(status), pagesTotal, l.now().UTC(), msg, l.runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", l.runID, err)
	}
	return nil
}

// RecordPage stores the outcome of one page on one target, replacing a
// previous outcome of the same page and target.
func (l *RunLog) RecordPage(ctx context.Context, page int, result TargetResult) error {
	status := PageStatusCompleted
	var msg sql.NullString
	if result.Err != nil {
		status = PageStatusFailed
		msg = sql.NullString{String: result.Err.Error(), Valid: true}
	}

	query := "INSERT INTO recorder_run_page (run_id, page, target, page_status, rows_written, rows_skipped, error_message, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) " +
		l.dialect.UpsertClause(
			[]string{"run_id", "page", "target"},
			[]string{"page_status", "rows_written", "rows_skipped", "error_message", "updated_at"},
		)

	_, err := l.db.ExecContext(ctx, l.bind(query),
		l.runID, page, string(result.Target), string(status), result.Rows, result.Skipped, msg, l.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record page %d: %w", page, err)
	}
	return nil
}

// GetRun loads the run row of runID.
func (l *RunLog) GetRun(ctx context.Context, runID string) (*RunInfo, error) {
	var info RunInfo
	var status string
	var from, to sql.NullString
	err := l.db.QueryRowContext(ctx,
		l.bind("SELECT run_id, run_uuid, run_status, from_date, to_date, pages_total, started_at FROM recorder_run WHERE run_id = ?"),
		runID,
	).Scan(&info.RunID, &info.UUID, &status, &from, &to, &info.PagesTotal, &info.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found in run log", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	info.Status = RunStatus(status)
	info.FromDate, info.ToDate = from.String, to.String
	return &info, nil
}

// PagesWithStatus lists the pages of runID whose target outcome has status.
func (l *RunLog) PagesWithStatus(ctx context.Context, runID string, target Target, status PageStatus) ([]int, error) {
	rows, err := l.db.QueryContext(ctx,
		l.bind("SELECT page FROM recorder_run_page WHERE run_id = ? AND target = ? AND page_status = ? ORDER BY page"),
		runID, string(target), string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run pages: %w", err)
	}
	defer rows.Close()

	var pages []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
