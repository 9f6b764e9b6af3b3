package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "sf_recorder_20250512_101500_page3.csv"), PageCSVPath("data", "20250512_101500", 3))
	assert.Equal(t, filepath.Join("data", "sf_recorder_all_20250512_101500.csv"), CombinedCSVPath("data", "20250512_101500"))
}

func TestPageCSVWriter(t *testing.T) {
	schema := testSchema(t)
	dir := filepath.Join(t.TempDir(), "nested", "data")
	w := NewPageCSVWriter(dir, "20250512_101500", schema)
	assert.Equal(t, TargetPageCSV, w.Target())

	page := testPage(t, schema, 1, [2]string{"A1", "2024-01-01"}, [2]string{"A2", "2024-01-02"})
	stats, err := w.Write(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rows)

	content, err := os.ReadFile(PageCSVPath(dir, "20250512_101500", 1))
	require.NoError(t, err)
	assert.Equal(t, "doc_id,date\nA1,2024-01-01\nA2,2024-01-02\n", string(content))
	assert.NoError(t, w.Close())
}

func TestPageCSVWriter_EmptyPage(t *testing.T) {
	schema := testSchema(t)
	dir := t.TempDir()
	w := NewPageCSVWriter(dir, "20250512_101500", schema)

	stats, err := w.Write(context.Background(), testPage(t, schema, 7))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Rows)

	n, err := CountCSVRows(PageCSVPath(dir, "20250512_101500", 7))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCombinedCSVWriter(t *testing.T) {
	schema := testSchema(t)
	path := filepath.Join(t.TempDir(), "all.csv")
	w := NewCombinedCSVWriter(path, schema)
	assert.Equal(t, TargetCombinedCSV, w.Target())

	_, err := w.Write(context.Background(), testPage(t, schema, 1, [2]string{"A1", "2024-01-01"}))
	require.NoError(t, err)

	// Flushed after each page, readable before Close
	n, err := CountCSVRows(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = w.Write(context.Background(), testPage(t, schema, 2, [2]string{"A2", "2024-01-02"}, [2]string{"A3, Jr", "2024-01-03"}))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 3, w.Rows())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "doc_id,date\nA1,2024-01-01\nA2,2024-01-02\n\"A3, Jr\",2024-01-03\n", string(content))
}

func TestCombinedCSVWriter_CloseWithoutPages(t *testing.T) {
	schema := testSchema(t)
	path := filepath.Join(t.TempDir(), "all.csv")
	w := NewCombinedCSVWriter(path, schema)
	require.NoError(t, w.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "doc_id,date\n", string(content))
}

func TestListPageFilesAndReadBack(t *testing.T) {
	schema := testSchema(t)
	dir := t.TempDir()
	w := NewPageCSVWriter(dir, "20250512_101500", schema)
	other := NewPageCSVWriter(dir, "20250513_080000", schema)

	for _, p := range []int{10, 2, 1} {
		_, err := w.Write(context.Background(), testPage(t, schema, p, [2]string{"A1", "2024-01-01"}))
		require.NoError(t, err)
	}
	_, err := other.Write(context.Background(), testPage(t, schema, 1))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	files, err := ListPageFiles(dir, "20250512_101500")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{files[0].Page, files[1].Page, files[2].Page})

	page, err := ReadPageCSV(files[2].Path, files[2].Page, schema)
	require.NoError(t, err)
	assert.Equal(t, 10, page.Number)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "A1", page.Records[0].Get("doc_id"))
	assert.Equal(t, 1, page.Records[0].Row)
}

func TestReadPageCSV_MissingColumn(t *testing.T) {
	schema := testSchema(t)
	path := filepath.Join(t.TempDir(), "p.csv")
	require.NoError(t, os.WriteFile(path, []byte("doc_id\nA1\n"), 0o644))

	_, err := ReadPageCSV(path, 1, schema)
	assert.ErrorContains(t, err, `missing column "date"`)
}

func TestListPageFiles_MissingDir(t *testing.T) {
	_, err := ListPageFiles(filepath.Join(t.TempDir(), "absent"), "20250512_101500")
	assert.Error(t, err)
}
