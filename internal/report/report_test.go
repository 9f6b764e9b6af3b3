package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dbsmedya/sfrecorder/internal/scraper"
	"github.com/dbsmedya/sfrecorder/internal/sink"
	"github.com/dbsmedya/sfrecorder/internal/types"
	"github.com/dbsmedya/sfrecorder/internal/verifier"
)

func summary() *scraper.Summary {
	return &scraper.Summary{
		RunID:            "20250512_101500",
		State:            scraper.StateDone,
		PagesTotal:       3,
		PagesAttempted:   3,
		PagesSucceeded:   2,
		Extracted:        []int{1, 3},
		Skipped:          []types.PageFailure{{Page: 2, Reason: "extract page 2: results table: browser wait timed out"}},
		RecordsExtracted: 200,
		RowsPersisted:    map[sink.Target]int{sink.TargetPageCSV: 200, sink.TargetCombinedCSV: 200},
		RowsSkipped:      map[sink.Target]int{},
		TargetFailures:   map[sink.Target][]int{sink.TargetDatabase: {1, 3}},
		Targets:          []sink.Target{sink.TargetPageCSV, sink.TargetCombinedCSV, sink.TargetDatabase},
		Duration:         90 * time.Second,
	}
}

func TestRunStatus(t *testing.T) {
	s := summary()
	assert.Equal(t, StatusPartial, RunStatus(s))

	s = summary()
	s.Skipped = nil
	s.PagesSucceeded = 3
	s.TargetFailures = map[sink.Target][]int{}
	assert.Equal(t, StatusOK, RunStatus(s))

	s = summary()
	s.Interrupted = true
	s.Err = context.Canceled
	assert.Equal(t, StatusInterrupted, RunStatus(s))

	s = summary()
	s.State = scraper.StateAborted
	s.Err = errors.New("authentication failed")
	assert.Equal(t, StatusFailed, RunStatus(s))

	s = &scraper.Summary{State: scraper.StateDone}
	assert.Equal(t, StatusOK, RunStatus(s), "no results is not a failure")
}

func TestPrinter_Summary(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Summary(summary())
	out := buf.String()

	assert.Contains(t, out, "=== Scrape Summary ===")
	assert.Contains(t, out, "Run:                 20250512_101500")
	assert.Contains(t, out, "Status:              PARTIAL")
	assert.Contains(t, out, "2 of 3 succeeded (1 skipped)")
	assert.Contains(t, out, "Pages extracted:     1, 3")
	assert.Contains(t, out, "Duration:            1m30s")
	assert.Contains(t, out, "  page_csv        200 rows  ok")
	assert.Contains(t, out, "  database          0 rows  failed pages 1, 3")
	assert.Contains(t, out, "  - page 2: extract page 2")
	assert.NotContains(t, out, "\x1b[", "plain output has no colour codes")
}

func TestPrinter_Verification(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Verification("20250512_101500", &verifier.VerifyStats{
		Method:    verifier.MethodCount,
		PageFiles: 2,
		TotalRows: 150,
		Results: []verifier.VerifyResult{
			{Check: verifier.CheckCombinedCSV, SourceCount: 150, DestCount: 150, Match: true},
			{Check: verifier.CheckDatabase, SourceCount: 150, DestCount: 100, ErrorMessage: "count mismatch: source=150, dest=100"},
		},
	})
	out := buf.String()

	assert.Contains(t, out, "combined_csv:        PASSED 150 rows")
	assert.Contains(t, out, "database:            FAILED count mismatch")
}

func TestPrinter_Reload(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Reload("20250512_101500", []sink.PersistResult{
		{Page: 1, Targets: []sink.TargetResult{{Target: sink.TargetDatabase, Rows: 100}}},
		{Page: 2, Targets: []sink.TargetResult{{Target: sink.TargetDatabase, Err: errors.New("deadlock")}}},
	})
	out := buf.String()

	assert.Contains(t, out, "Rows upserted:       100")
	assert.Contains(t, out, "Failed pages:        2")
}
