package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/dbsmedya/sfrecorder/internal/types"
)

// File names are derived from the run ID so separate runs never collide.
const (
	pageFilePattern     = "sf_recorder_%s_page%d.csv"
	combinedFilePattern = "sf_recorder_all_%s.csv"
)

var pageFileRegex = regexp.MustCompile(`^sf_recorder_(\d{8}_\d{6})_page(\d+)\.csv$`)

// PageCSVPath returns the per-page CSV path for a run.
func PageCSVPath(dir, runID string, page int) string {
	return filepath.Join(dir, fmt.Sprintf(pageFilePattern, runID, page))
}

// CombinedCSVPath returns the default combined CSV path for a run.
func CombinedCSVPath(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf(combinedFilePattern, runID))
}

// PageFile is a per-page CSV found on disk.
type PageFile struct {
	Page int
	Path string
}

// ListPageFiles returns the per-page CSVs of a run ordered by page number.
func ListPageFiles(dir, runID string) ([]PageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output dir: %w", err)
	}

	var files []PageFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pageFileRegex.FindStringSubmatch(e.Name())
		if m == nil || m[1] != runID {
			continue
		}
		page, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		files = append(files, PageFile{Page: page, Path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Page < files[j].Page })
	return files, nil
}

func writeRecords(w *csv.Writer, schema *types.Schema, page types.Page) (int, error) {
	for _, r := range page.Records {
		if err := w.Write(r.Values(schema)); err != nil {
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return page.Len(), nil
}

// PageCSVWriter writes one file per page.
type PageCSVWriter struct {
	dir    string
	runID  string
	schema *types.Schema
}

// NewPageCSVWriter creates the per-page CSV target. The directory is created on demand.
func NewPageCSVWriter(dir, runID string, schema *types.Schema) *PageCSVWriter {
	return &PageCSVWriter{dir: dir, runID: runID, schema: schema}
}

func (w *PageCSVWriter) Target() Target { return TargetPageCSV }

// Write creates (or truncates) the page file and writes the header and rows.
func (w *PageCSVWriter) Write(ctx context.Context, page types.Page) (WriteStats, error) {
	if err := ctx.Err(); err != nil {
		return WriteStats{}, err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return WriteStats{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	path := PageCSVPath(w.dir, w.runID, page.Number)
	f, err := os.Create(path)
	if err != nil {
		return WriteStats{}, fmt.Errorf("failed to create %s: %w", path, err)
	}

	cw := csv.NewWriter(f)
	if err := cw.Write(w.schema.Fields()); err != nil {
		f.Close()
		return WriteStats{}, fmt.Errorf("failed to write header: %w", err)
	}
	rows, err := writeRecords(cw, w.schema, page)
	if err != nil {
		f.Close()
		return WriteStats{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return WriteStats{}, fmt.Errorf("failed to close %s: %w", path, err)
	}
	return WriteStats{Rows: rows}, nil
}

func (w *PageCSVWriter) Close() error { return nil }

// CombinedCSVWriter appends every page of a run to one file. The file is
// created on the first page and the header is written once.
type CombinedCSVWriter struct {
	path   string
	schema *types.Schema
	file   *os.File
	csv    *csv.Writer
	rows   int
}

// NewCombinedCSVWriter creates the combined CSV target.
func NewCombinedCSVWriter(path string, schema *types.Schema) *CombinedCSVWriter {
	return &CombinedCSVWriter{path: path, schema: schema}
}

func (w *CombinedCSVWriter) Target() Target { return TargetCombinedCSV }

// Path returns the combined file location.
func (w *CombinedCSVWriter) Path() string { return w.path }

// Rows returns the number of data rows written so far.
func (w *CombinedCSVWriter) Rows() int { return w.rows }

func (w *CombinedCSVWriter) open() error {
	if w.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", w.path, err)
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(w.schema.Fields()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	w.file, w.csv = f, cw
	return nil
}

// Write appends the page rows and flushes them to disk.
func (w *CombinedCSVWriter) Write(ctx context.Context, page types.Page) (WriteStats, error) {
	if err := ctx.Err(); err != nil {
		return WriteStats{}, err
	}
	if err := w.open(); err != nil {
		return WriteStats{}, err
	}
	rows, err := writeRecords(w.csv, w.schema, page)
	if err != nil {
		return WriteStats{}, fmt.Errorf("failed to append to %s: %w", w.path, err)
	}
	w.rows += rows
	return WriteStats{Rows: rows}, nil
}

// Close flushes and closes the file. A run that produced no pages still
// leaves a header-only file behind.
func (w *CombinedCSVWriter) Close() error {
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	w.csv.Flush()
	err := w.csv.Error()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file, w.csv = nil, nil
	return err
}

// ReadPageCSV loads a per-page CSV back into a Page. Columns are matched
// by header name, so files written with a reordered schema still load.
func ReadPageCSV(path string, page int, schema *types.Schema) (types.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Page{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := readCSV(f)
	if err != nil {
		return types.Page{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	result := types.Page{Number: page}
	if len(rows) == 0 {
		return result, nil
	}

	header := rows[0]
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}
	for _, field := range schema.Fields() {
		if _, ok := pos[field]; !ok {
			return types.Page{}, fmt.Errorf("%s: missing column %q", path, field)
		}
	}

	for i, row := range rows[1:] {
		rec := types.NewRecord(schema, page, i+1)
		for _, field := range schema.Fields() {
			if idx := pos[field]; idx < len(row) {
				rec.Fields[field] = row[idx]
			}
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

// CountCSVRows returns the number of data rows (excluding the header) in a CSV file.
func CountCSVRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := readCSV(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return len(rows) - 1, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}
