package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/sfrecorder/internal/config"
	"github.com/dbsmedya/sfrecorder/internal/database"
	"github.com/dbsmedya/sfrecorder/internal/lock"
	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/report"
	"github.com/dbsmedya/sfrecorder/internal/sink"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

// outputWriter is used for printing output, can be overridden in tests
var outputWriter io.Writer = os.Stdout

// setOutputWriter sets the output writer (used for testing)
func setOutputWriter(w io.Writer) {
	outputWriter = w
}

// resetOutputWriter resets output to stdout (used for testing)
func resetOutputWriter() {
	outputWriter = os.Stdout
}

// Replaced in tests.
var (
	now          = time.Now
	openDatabase = func(ctx context.Context, cfg *config.DatabaseConfig) (*database.Manager, error) {
		m := database.NewManager(cfg)
		if err := m.Connect(ctx); err != nil {
			return nil, err
		}
		return m, nil
	}
)

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadConfig builds the configuration from defaults, the config file,
// .env and the environment, and the CLI flags, in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	explicit := cmd.Flags().Changed("config")
	cfg, err := config.Load(GetConfigFile(), explicit)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyOverrides(GetCLIOverrides())
	cfg.ResolveSearchDates(now())
	return cfg, nil
}

// buildSchema turns the configured field mapping into a Schema.
func buildSchema(cfg *config.Config) (*types.Schema, error) {
	pairs := make([][2]string, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		pairs = append(pairs, [2]string{f.Name, f.Header})
	}
	return types.NewSchema(cfg.KeyField, pairs...)
}

func newPrinter(cfg *config.Config) *report.Printer {
	return report.NewPrinter(outputWriter, noColor || cfg.Logging.Format == "json")
}

// dbSession is the database side of a command: the connection pool, the
// advisory lock on the records table, the records store and the run log.
type dbSession struct {
	manager *database.Manager
	lock    *lock.AdvisoryLock
	store   *sink.Store
	runLog  *sink.RunLog
}

// openDBSession connects, takes the table lock and prepares the tables.
// The run log is optional; a failure to set it up is logged and ignored.
func openDBSession(ctx context.Context, cfg *config.Config, schema *types.Schema, runID string, log *logger.Logger) (*dbSession, error) {
	mgr, err := openDatabase(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	s := &dbSession{manager: mgr}

	store, err := sink.NewStore(mgr.DB, mgr.Dialect, cfg.Database.Table, schema, runID, log)
	if err != nil {
		s.close(log)
		return nil, err
	}
	s.store = store

	l := lock.NewTableLock(mgr.DB, mgr.Dialect, cfg.Database.Database+"."+cfg.Database.Table)
	if err := l.AcquireOrFail(ctx); err != nil {
		s.close(log)
		return nil, err
	}
	s.lock = l
	log.Debugf("Acquired lock %s", l.LockName())

	if err := store.EnsureTable(ctx); err != nil {
		s.close(log)
		return nil, err
	}

	runLog, err := sink.NewRunLog(mgr.DB, mgr.Dialect, runID, log)
	if err == nil {
		err = runLog.InitializeTables(ctx)
	}
	if err != nil {
		log.Warnf("Run log disabled: %v", err)
		return s, nil
	}
	s.runLog = runLog
	return s, nil
}

func (s *dbSession) close(log *logger.Logger) {
	if s.lock != nil {
		// Release with a fresh context so an interrupted run still unlocks.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := s.lock.ReleaseLock(ctx); err != nil {
			log.Warnf("Failed to release lock: %v", err)
		}
		cancel()
	}
	if err := s.manager.Close(); err != nil {
		log.Warnf("Failed to close database: %v", err)
	}
}
