package sink

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/sqlutil"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

// Bookkeeping columns stored next to the record fields.
const (
	columnRunID     = "run_id"
	columnPage      = "page_number"
	columnScrapedAt = "scraped_at"
)

// Store upserts records into the records table keyed by the schema key field.
type Store struct {
	db      *sql.DB
	dialect sqlutil.Dialect
	table   string
	schema  *types.Schema
	runID   string
	logger  *logger.Logger
	now     func() time.Time
}

// NewStore creates a Store. Table and field names are validated because they
// come from configuration and end up in SQL text.
func NewStore(db *sql.DB, dialect sqlutil.Dialect, table string, schema *types.Schema, runID string, log *logger.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if !sqlutil.IsValidIdentifier(table) {
		return nil, &sqlutil.InvalidIdentifierError{Name: table}
	}
	for _, f := range schema.Fields() {
		if !sqlutil.IsValidIdentifier(f) {
			return nil, &sqlutil.InvalidIdentifierError{Name: f}
		}
		switch f {
		case columnRunID, columnPage, columnScrapedAt:
			return nil, fmt.Errorf("field %q collides with a reserved column", f)
		}
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		table:   table,
		schema:  schema,
		runID:   runID,
		logger:  log,
		now:     time.Now,
	}, nil
}

// columns returns the record columns followed by the bookkeeping columns.
func (s *Store) columns() []string {
	return append(s.schema.Fields(), columnRunID, columnPage, columnScrapedAt)
}

// CreateTableSQL renders the idempotent DDL of the records table.
func (s *Store) CreateTableSQL() string {
	q := s.dialect.QuoteIdentifier
	key := s.schema.KeyField()

	var defs []string
	for _, f := range s.schema.Fields() {
		switch {
		case f == key && s.dialect == sqlutil.MySQL:
			// utf8mb4 index prefix limit
			defs = append(defs, q(f)+" VARCHAR(191) NOT NULL")
		case f == key:
			defs = append(defs, q(f)+" TEXT NOT NULL")
		default:
			defs = append(defs, q(f)+" TEXT")
		}
	}

	if s.dialect == sqlutil.Postgres {
		defs = append(defs,
			q(columnRunID)+" VARCHAR(32) NOT NULL",
			q(columnPage)+" INTEGER NOT NULL",
			q(columnScrapedAt)+" TIMESTAMPTZ NOT NULL",
			"PRIMARY KEY ("+q(key)+")",
		)
		return "CREATE TABLE IF NOT EXISTS " + q(s.table) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
	}

	defs = append(defs,
		q(columnRunID)+" VARCHAR(32) NOT NULL",
		q(columnPage)+" INT NOT NULL",
		q(columnScrapedAt)+" DATETIME NOT NULL",
		"PRIMARY KEY ("+q(key)+")",
		"INDEX idx_run ("+q(columnRunID)+")",
	)
	return "CREATE TABLE IF NOT EXISTS " + q(s.table) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
}

// EnsureTable creates the records table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.CreateTableSQL()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	s.logger.Debugf("Table %q ready", s.table)
	return nil
}

// upsertSQL renders a multi-row upsert for n records.
func (s *Store) upsertSQL(n int) string {
	q := s.dialect.QuoteIdentifier
	cols := s.columns()

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = q(c)
	}

	tuples := make([]string, n)
	for i := range tuples {
		tuples[i] = "(" + s.dialect.Placeholders(i*len(cols)+1, len(cols)) + ")"
	}

	key := s.schema.KeyField()
	update := make([]string, 0, len(cols)-1)
	for _, c := range cols {
		if c != key {
			update = append(update, c)
		}
	}

	return "INSERT INTO " + q(s.table) + " (" + strings.Join(quoted, ", ") + ") VALUES " +
		strings.Join(tuples, ", ") + " " + s.dialect.UpsertClause([]string{key}, update)
}

// dedupe keeps the last record of each key and drops records without one.
// A single upsert statement must not touch the same key twice.
func (s *Store) dedupe(records []types.Record) (kept []types.Record, skipped int) {
	index := make(map[string]int, len(records))
	for _, r := range records {
		key := strings.TrimSpace(r.Key(s.schema))
		if key == "" {
			skipped++
			continue
		}
		if i, seen := index[key]; seen {
			kept[i] = r
			continue
		}
		index[key] = len(kept)
		kept = append(kept, r)
	}
	return kept, skipped
}

// Upsert writes one page inside a single transaction.
func (s *Store) Upsert(ctx context.Context, page types.Page) (WriteStats, error) {
	records, skipped := s.dedupe(page.Records)
	if len(records) == 0 {
		return WriteStats{Skipped: skipped}, nil
	}

	scrapedAt := s.now().UTC()
	args := make([]interface{}, 0, len(records)*len(s.columns()))
	for _, r := range records {
		for _, v := range r.Values(s.schema) {
			args = append(args, v)
		}
		args = append(args, s.runID, page.Number, scrapedAt)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WriteStats{}, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure rollback on error
	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Errorf("Failed to rollback transaction: %v", rbErr)
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, s.upsertSQL(len(records)), args...); err != nil {
		return WriteStats{}, fmt.Errorf("failed to upsert page %d: %w", page.Number, err)
	}

	if err := tx.Commit(); err != nil {
		return WriteStats{}, fmt.Errorf("failed to commit page %d: %w", page.Number, err)
	}
	tx = nil

	return WriteStats{Rows: len(records), Skipped: skipped}, nil
}

// presentKeysBatch caps the keys bound into one IN list.
const presentKeysBatch = 500

// PresentKeys returns, in ascending order, which of keys are stored. The
// lookup ignores run_id: a later run that re-scraped a document takes over
// its row, and the document is still present.
func (s *Store) PresentKeys(ctx context.Context, keys []string) ([]string, error) {
	q := s.dialect.QuoteIdentifier
	key := q(s.schema.KeyField())

	var present []string
	for start := 0; start < len(keys); start += presentKeysBatch {
		end := start + presentKeysBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		args := make([]interface{}, len(batch))
		for i, k := range batch {
			args[i] = k
		}
		query := "SELECT " + key + " FROM " + q(s.table) +
			" WHERE " + key + " IN (" + s.dialect.Placeholders(1, len(batch)) + ")"

		found, err := s.scanKeys(ctx, query, args)
		if err != nil {
			return nil, err
		}
		present = append(present, found...)
	}
	sort.Strings(present)
	return present, nil
}

func (s *Store) scanKeys(ctx context.Context, query string, args []interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up keys in %s: %w", s.table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DatabaseWriter adapts a Store to the sink Writer interface. When the
// database could not be reached at start, every write reports the cause.
type DatabaseWriter struct {
	store *Store
	cause error
}

// NewDatabaseWriter creates the database target.
func NewDatabaseWriter(store *Store) *DatabaseWriter {
	return &DatabaseWriter{store: store}
}

// UnavailableDatabase returns a database target that fails every page with cause.
func UnavailableDatabase(cause error) *DatabaseWriter {
	return &DatabaseWriter{cause: cause}
}

func (w *DatabaseWriter) Target() Target { return TargetDatabase }

func (w *DatabaseWriter) Write(ctx context.Context, page types.Page) (WriteStats, error) {
	if w.store == nil {
		return WriteStats{}, fmt.Errorf("%w: %v", ErrTargetUnavailable, w.cause)
	}
	return w.store.Upsert(ctx, page)
}

func (w *DatabaseWriter) Close() error { return nil }
