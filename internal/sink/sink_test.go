package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

func testSchema(t *testing.T) *types.Schema {
	t.Helper()
	s, err := types.NewSchema("doc_id",
		[2]string{"doc_id", "Document Number"},
		[2]string{"date", "Recording Date"},
	)
	require.NoError(t, err)
	return s
}

func testPage(t *testing.T, schema *types.Schema, number int, rows ...[2]string) types.Page {
	t.Helper()
	page := types.Page{Number: number}
	for i, r := range rows {
		rec := types.NewRecord(schema, number, i+1)
		rec.Fields["doc_id"] = r[0]
		rec.Fields["date"] = r[1]
		page.Records = append(page.Records, rec)
	}
	return page
}

type stubWriter struct {
	target Target
	err    error
	pages  []int
	closed bool
}

func (w *stubWriter) Target() Target { return w.target }

func (w *stubWriter) Write(ctx context.Context, page types.Page) (WriteStats, error) {
	w.pages = append(w.pages, page.Number)
	if w.err != nil {
		return WriteStats{}, w.err
	}
	return WriteStats{Rows: page.Len()}, nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

type stubRecorder struct {
	results []TargetResult
}

func (r *stubRecorder) RecordPage(ctx context.Context, page int, result TargetResult) error {
	r.results = append(r.results, result)
	return nil
}

func TestSink_FailingTargetDoesNotBlockOthers(t *testing.T) {
	schema := testSchema(t)
	pageCSV := &stubWriter{target: TargetPageCSV}
	db := &stubWriter{target: TargetDatabase, err: errors.New("connection refused")}
	combined := &stubWriter{target: TargetCombinedCSV}

	s := New(logger.NewNop(), pageCSV, db, combined)
	rec := &stubRecorder{}
	s.SetRecorder(rec)

	res := s.Persist(context.Background(), testPage(t, schema, 1, [2]string{"A1", "2024-01-01"}))

	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 1, res.Records)
	require.Len(t, res.Targets, 3)
	assert.True(t, res.AnySucceeded())

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, TargetDatabase, failed[0].Target)

	var pErr *PersistenceError
	require.ErrorAs(t, failed[0].Err, &pErr)
	assert.Equal(t, TargetDatabase, pErr.Target)
	assert.Equal(t, 1, pErr.Page)
	assert.Contains(t, pErr.Error(), "connection refused")

	assert.Equal(t, []int{1}, combined.pages, "combined CSV written after the failing target")
	assert.Len(t, rec.results, 3)
	assert.Equal(t, []Target{TargetPageCSV, TargetDatabase, TargetCombinedCSV}, s.Targets())
}

func TestSink_AtMostOncePerTarget(t *testing.T) {
	schema := testSchema(t)
	w := &stubWriter{target: TargetPageCSV}
	db := &stubWriter{target: TargetDatabase, err: errors.New("boom")}
	s := New(logger.NewNop(), w, db)

	page := testPage(t, schema, 2, [2]string{"A1", "2024-01-01"})
	first := s.Persist(context.Background(), page)
	second := s.Persist(context.Background(), page)

	assert.Equal(t, []int{2}, w.pages)
	assert.Equal(t, []int{2}, db.pages, "a failed target is not retried within the run")
	assert.True(t, first.Targets[0].OK())

	for _, tr := range second.Targets {
		assert.ErrorIs(t, tr.Err, ErrAlreadyPersisted)
	}
	assert.False(t, second.AnySucceeded())

	// A different page is still accepted
	third := s.Persist(context.Background(), testPage(t, schema, 3))
	assert.True(t, third.Targets[0].OK())
}

func TestSink_Close(t *testing.T) {
	a := &stubWriter{target: TargetPageCSV}
	b := &stubWriter{target: TargetCombinedCSV}
	s := New(nil, a, b)

	require.NoError(t, s.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestSink_UnavailableDatabase(t *testing.T) {
	schema := testSchema(t)
	dir := t.TempDir()
	runID := "20250512_101500"

	combined := NewCombinedCSVWriter(CombinedCSVPath(dir, runID), schema)
	s := New(logger.NewNop(),
		NewPageCSVWriter(dir, runID, schema),
		combined,
		UnavailableDatabase(errors.New("dial tcp: connection refused")),
	)

	for p := 1; p <= 2; p++ {
		res := s.Persist(context.Background(), testPage(t, schema, p, [2]string{"A1", "2024-01-01"}, [2]string{"A2", "2024-01-02"}))
		failed := res.Failed()
		require.Len(t, failed, 1)
		assert.Equal(t, TargetDatabase, failed[0].Target)
		assert.ErrorIs(t, failed[0].Err, ErrTargetUnavailable)
	}
	require.NoError(t, s.Close())

	n, err := CountCSVRows(combined.Path())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	for p := 1; p <= 2; p++ {
		n, err := CountCSVRows(PageCSVPath(dir, runID, p))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
}
