package sink

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/sqlutil"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

func newTestRunLog(t *testing.T, dialect sqlutil.Dialect) (*RunLog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l, err := NewRunLog(db, dialect, "20250512_101500", logger.NewNop())
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2025, 5, 12, 11, 0, 0, 0, time.UTC) }
	return l, mock
}

func TestNewRunLog_NilDB(t *testing.T) {
	_, err := NewRunLog(nil, sqlutil.MySQL, "r", nil)
	assert.Error(t, err)
}

func TestRunLog_InitializeTables(t *testing.T) {
	for _, dialect := range []sqlutil.Dialect{sqlutil.MySQL, sqlutil.Postgres} {
		t.Run(string(dialect), func(t *testing.T) {
			l, mock := newTestRunLog(t, dialect)
			if dialect == sqlutil.Postgres {
				mock.ExpectExec(createRunTablePostgres).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(createRunPageTablePostgres).WillReturnResult(sqlmock.NewResult(0, 0))
			} else {
				mock.ExpectExec(createRunTableMySQL).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(createRunPageTableMySQL).WillReturnResult(sqlmock.NewResult(0, 0))
			}
			require.NoError(t, l.InitializeTables(context.Background()))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRunLog_StartAndFinish(t *testing.T) {
	l, mock := newTestRunLog(t, sqlutil.Postgres)
	run := types.NewRun(time.Date(2025, 5, 12, 10, 15, 0, 0, time.UTC))

	mock.ExpectExec("INSERT INTO recorder_run (run_id, run_uuid, run_status, from_date, to_date, started_at) VALUES ($1, $2, $3, $4, $5, $6)").
		WithArgs(run.ID, run.UUID.String(), "running", "05/07/2025", "05/12/2025", run.StartedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recorder_run SET run_status = $1, pages_total = $2, finished_at = $3, error_message = $4 WHERE run_id = $5").
		WithArgs("aborted", 3, sqlmock.AnyArg(), sql.NullString{String: "login failed", Valid: true}, "20250512_101500").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.StartRun(context.Background(), run, "05/07/2025", "05/12/2025"))
	require.NoError(t, l.FinishRun(context.Background(), RunStatusAborted, 3, errors.New("login failed")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_RecordPage(t *testing.T) {
	l, mock := newTestRunLog(t, sqlutil.MySQL)

	query := "INSERT INTO recorder_run_page (run_id, page, target, page_status, rows_written, rows_skipped, error_message, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE `page_status` = VALUES(`page_status`), `rows_written` = VALUES(`rows_written`), `rows_skipped` = VALUES(`rows_skipped`), `error_message` = VALUES(`error_message`), `updated_at` = VALUES(`updated_at`)"

	mock.ExpectExec(query).
		WithArgs("20250512_101500", 2, "database", "failed", 0, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs("20250512_101500", 2, "page_csv", "completed", 100, 0, sql.NullString{}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	failed := TargetResult{Target: TargetDatabase, Err: &PersistenceError{Target: TargetDatabase, Page: 2, Err: errors.New("timeout")}}
	require.NoError(t, l.RecordPage(context.Background(), 2, failed))
	require.NoError(t, l.RecordPage(context.Background(), 2, TargetResult{Target: TargetPageCSV, Rows: 100}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_GetRun(t *testing.T) {
	l, mock := newTestRunLog(t, sqlutil.MySQL)
	started := time.Date(2025, 5, 12, 10, 15, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT run_id, run_uuid, run_status, from_date, to_date, pages_total, started_at FROM recorder_run WHERE run_id = ?").
		WithArgs("20250512_101500").
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "run_uuid", "run_status", "from_date", "to_date", "pages_total", "started_at"}).
			AddRow("20250512_101500", "6f1c1c9e-3f0e-4a43-9d69-4f1f8e55b2a1", "completed", "05/07/2025", "05/12/2025", 12, started))

	info, err := l.GetRun(context.Background(), "20250512_101500")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, info.Status)
	assert.Equal(t, 12, info.PagesTotal)
	assert.Equal(t, "05/07/2025", info.FromDate)

	mock.ExpectQuery("SELECT run_id, run_uuid, run_status, from_date, to_date, pages_total, started_at FROM recorder_run WHERE run_id = ?").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err = l.GetRun(context.Background(), "missing")
	assert.ErrorContains(t, err, "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_PagesWithStatus(t *testing.T) {
	l, mock := newTestRunLog(t, sqlutil.Postgres)

	mock.ExpectQuery("SELECT page FROM recorder_run_page WHERE run_id = $1 AND target = $2 AND page_status = $3 ORDER BY page").
		WithArgs("20250512_101500", "database", "failed").
		WillReturnRows(sqlmock.NewRows([]string{"page"}).AddRow(3).AddRow(7))

	pages, err := l.PagesWithStatus(context.Background(), "20250512_101500", TargetDatabase, PageStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, pages)
	assert.NoError(t, mock.ExpectationsWereMet())
}
