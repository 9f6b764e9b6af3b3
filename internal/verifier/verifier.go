// Package verifier cross-checks the outputs of a run: the combined CSV
// against the per-page CSVs, and the page CSVs against the records table.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/sink"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

// VerificationMethod defines how to verify data integrity.
type VerificationMethod string

const (
	// MethodCount uses simple row count comparison (fast)
	MethodCount VerificationMethod = "count"
	// MethodSHA256 hashes rows and keys (slower but more thorough)
	MethodSHA256 VerificationMethod = "sha256"
	// MethodSkip skips verification entirely
	MethodSkip VerificationMethod = "skip"
)

// KeySource is the part of the records store the verifier reads.
type KeySource interface {
	// PresentKeys returns the sorted subset of keys that are stored.
	PresentKeys(ctx context.Context, keys []string) ([]string, error)
}

// missingListed caps the missing keys named in a mismatch message.
const missingListed = 5

// Check names.
const (
	CheckCombinedCSV = "combined_csv"
	CheckDatabase    = "database"
)

// VerifyResult holds the outcome of one check.
type VerifyResult struct {
	Check        string
	Method       VerificationMethod
	SourceCount  int64 // page CSVs
	DestCount    int64 // combined CSV or records table
	SourceHash   string
	DestHash     string
	Match        bool
	ErrorMessage string
}

// VerifyStats contains overall verification statistics.
type VerifyStats struct {
	ChecksRun    int
	ChecksPassed int
	ChecksFailed int
	PageFiles    int
	TotalRows    int64
	Method       VerificationMethod
	Results      []VerifyResult
}

// Verifier checks the outputs of one run.
type Verifier struct {
	dir          string
	runID        string
	combinedPath string
	schema       *types.Schema
	store        KeySource // nil skips the database check
	method       VerificationMethod
	logger       *logger.Logger
}

// NewVerifier creates a verifier for the run's files under dir. A nil store
// limits verification to the CSV files.
func NewVerifier(dir, runID, combinedPath string, schema *types.Schema, store KeySource, method VerificationMethod, log *logger.Logger) (*Verifier, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	if method == "" {
		method = MethodCount
	}
	if combinedPath == "" {
		combinedPath = sink.CombinedCSVPath(dir, runID)
	}

	return &Verifier{
		dir:          dir,
		runID:        runID,
		combinedPath: combinedPath,
		schema:       schema,
		store:        store,
		method:       method,
		logger:       log,
	}, nil
}

// Verify runs the checks. A mismatch is reported in the stats and as an error.
func (v *Verifier) Verify(ctx context.Context) (*VerifyStats, error) {
	if v.method == MethodSkip {
		v.logger.Info("Verification SKIPPED (method=skip)")
		return &VerifyStats{Method: MethodSkip}, nil
	}
	if v.method != MethodCount && v.method != MethodSHA256 {
		return nil, fmt.Errorf("unsupported verification method: %s", v.method)
	}

	stats := &VerifyStats{Method: v.method}

	files, err := sink.ListPageFiles(v.dir, v.runID)
	if err != nil {
		return stats, err
	}
	stats.PageFiles = len(files)

	pages := make([]types.Page, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("verification interrupted: %w", err)
		}
		page, err := sink.ReadPageCSV(f.Path, f.Page, v.schema)
		if err != nil {
			return stats, err
		}
		pages = append(pages, page)
		stats.TotalRows += int64(page.Len())
	}

	v.logger.Infof("Starting verification (method=%s) of run %s: %d page files, %d rows",
		v.method, v.runID, len(files), stats.TotalRows)

	combined, err := v.verifyCombined(pages)
	if err != nil {
		return stats, err
	}
	v.record(stats, combined)

	if v.store != nil {
		db, err := v.verifyDatabase(ctx, pages)
		if err != nil {
			return stats, err
		}
		v.record(stats, db)
	}

	v.logger.Infof("Verification complete: %d checks, %d passed, %d failed",
		stats.ChecksRun, stats.ChecksPassed, stats.ChecksFailed)

	if stats.ChecksFailed > 0 {
		return stats, fmt.Errorf("verification failed: %d checks had mismatches", stats.ChecksFailed)
	}
	return stats, nil
}

func (v *Verifier) record(stats *VerifyStats, r *VerifyResult) {
	stats.ChecksRun++
	stats.Results = append(stats.Results, *r)
	if r.Match {
		stats.ChecksPassed++
		v.logger.Debugf("Verification PASSED for %s (%d rows)", r.Check, r.SourceCount)
		return
	}
	stats.ChecksFailed++
	v.logger.Errorf("Verification FAILED for %s: %s", r.Check, r.ErrorMessage)
}

// verifyCombined compares the combined CSV with the concatenation of the
// page CSVs in page order.
func (v *Verifier) verifyCombined(pages []types.Page) (*VerifyResult, error) {
	combined, err := sink.ReadPageCSV(v.combinedPath, 0, v.schema)
	if err != nil {
		return nil, err
	}

	var source []types.Record
	for _, p := range pages {
		source = append(source, p.Records...)
	}

	result := &VerifyResult{
		Check:       CheckCombinedCSV,
		Method:      v.method,
		SourceCount: int64(len(source)),
		DestCount:   int64(combined.Len()),
	}
	if v.method == MethodSHA256 {
		result.SourceHash = v.hashRecords(source)
		result.DestHash = v.hashRecords(combined.Records)
	}
	finish(result)
	return result, nil
}

// verifyDatabase checks that every distinct key of the page CSVs is stored.
// A row may since have been taken over by a later run that scraped the same
// document, so the check does not filter on run.
func (v *Verifier) verifyDatabase(ctx context.Context, pages []types.Page) (*VerifyResult, error) {
	keys := v.distinctKeys(pages)

	result := &VerifyResult{
		Check:       CheckDatabase,
		Method:      v.method,
		SourceCount: int64(len(keys)),
	}

	present, err := v.store.PresentKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	result.DestCount = int64(len(present))

	if v.method == MethodSHA256 {
		result.SourceHash = hashStrings(keys)
		result.DestHash = hashStrings(present)
	}
	finish(result)
	if !result.Match {
		if missing := missingKeys(keys, present); len(missing) > 0 {
			result.ErrorMessage += "; missing " + listKeys(missing)
		}
	}
	return result, nil
}

// missingKeys returns the keys of want absent from have. Both are sorted.
func missingKeys(want, have []string) []string {
	var missing []string
	j := 0
	for _, k := range want {
		for j < len(have) && have[j] < k {
			j++
		}
		if j < len(have) && have[j] == k {
			continue
		}
		missing = append(missing, k)
	}
	return missing
}

func listKeys(keys []string) string {
	if len(keys) <= missingListed {
		return strings.Join(keys, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(keys[:missingListed], ", "), len(keys)-missingListed)
}

func finish(r *VerifyResult) {
	r.Match = r.SourceCount == r.DestCount && r.SourceHash == r.DestHash
	if r.Match {
		return
	}
	if r.SourceCount != r.DestCount {
		r.ErrorMessage = fmt.Sprintf("count mismatch: source=%d, dest=%d", r.SourceCount, r.DestCount)
	} else {
		r.ErrorMessage = fmt.Sprintf("hash mismatch: source=%s, dest=%s", r.SourceHash[:16], r.DestHash[:16])
	}
}

// distinctKeys returns the sorted non-empty keys of pages.
func (v *Verifier) distinctKeys(pages []types.Page) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, p := range pages {
		for _, r := range p.Records {
			k := strings.TrimSpace(r.Key(v.schema))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (v *Verifier) hashRecords(records []types.Record) string {
	hasher := sha256.New()
	for _, r := range records {
		hasher.Write([]byte(serializeRecord(v.schema, r)))
		hasher.Write([]byte("\n"))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func hashStrings(values []string) string {
	hasher := sha256.New()
	for _, s := range values {
		hasher.Write([]byte(s))
		hasher.Write([]byte("\n"))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// serializeRecord renders a record as field=value pairs in schema order.
// A null byte separates pairs so values containing commas stay unambiguous.
func serializeRecord(schema *types.Schema, r types.Record) string {
	fields := schema.Fields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + "=" + r.Get(f)
	}
	return strings.Join(parts, "\x00")
}

// GetMethod returns the configured verification method.
func (v *Verifier) GetMethod() VerificationMethod {
	return v.method
}
