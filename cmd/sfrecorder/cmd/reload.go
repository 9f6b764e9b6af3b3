package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/sink"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

var (
	reloadRun        string
	reloadFailedOnly bool
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Replay a run's page CSVs into the records table",
	Long: `Reload upserts the per-page CSV files of an earlier run into the
records table. Use it after a run that could not reach the database, or
whose database writes failed for some pages.

With --failed-only only the pages that the run log marks as failed for
the database target are replayed.

Example:
  sfrecorder reload --run 20250512_101500 --failed-only`,
	RunE: runReload,
}

func init() {
	reloadCmd.Flags().StringVar(&reloadRun, "run", "",
		"Run ID to reload, e.g. 20250512_101500 (required)")
	reloadCmd.MarkFlagRequired("run")
	reloadCmd.Flags().BoolVar(&reloadFailedOnly, "failed-only", false,
		"Only replay pages whose database write failed")

	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, args []string) error {
	if err := validateRunID(reloadRun); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("reload needs the database, remove --skip-db")
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	log = log.WithRun(reloadRun)

	schema, err := buildSchema(cfg)
	if err != nil {
		return err
	}

	files, err := sink.ListPageFiles(cfg.Output.Dir, reloadRun)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no page files for run %s in %s", reloadRun, cfg.Output.Dir)
	}

	ctx := commandContext(cmd)
	session, err := openDBSession(ctx, cfg, schema, reloadRun, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer session.close(log)

	if session.runLog != nil {
		if info, err := session.runLog.GetRun(ctx, reloadRun); err != nil {
			log.Warnf("Replaying without run log details: %v", err)
		} else {
			log.Infow("Replaying run", "status", info.Status, "from", info.FromDate, "to", info.ToDate, "pages", info.PagesTotal)
		}
	}

	if reloadFailedOnly {
		if session.runLog == nil {
			return fmt.Errorf("--failed-only needs the run log tables")
		}
		failed, err := session.runLog.PagesWithStatus(ctx, reloadRun, sink.TargetDatabase, sink.PageStatusFailed)
		if err != nil {
			return err
		}
		files = selectPages(files, failed)
		log.Infof("Replaying %d failed pages", len(files))
	}

	out := sink.New(log, sink.NewDatabaseWriter(session.store))
	if session.runLog != nil {
		out.SetRecorder(session.runLog)
	}

	var results []sink.PersistResult
	failures := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("reload interrupted: %w", err)
		}
		page, err := sink.ReadPageCSV(f.Path, f.Page, schema)
		if err != nil {
			return err
		}
		res := out.Persist(ctx, page)
		failures += len(res.Failed())
		results = append(results, res)
	}
	if err := out.Close(); err != nil {
		log.Warnf("Failed to close database target: %v", err)
	}

	newPrinter(cfg).Reload(reloadRun, results)
	if failures > 0 {
		return fmt.Errorf("reload failed for %d pages", failures)
	}
	return nil
}

// selectPages keeps the files whose page number is in pages.
func selectPages(files []sink.PageFile, pages []int) []sink.PageFile {
	want := make(map[int]bool, len(pages))
	for _, p := range pages {
		want[p] = true
	}
	kept := files[:0]
	for _, f := range files {
		if want[f.Page] {
			kept = append(kept, f)
		}
	}
	return kept
}

// validateRunID rejects IDs that are not a run timestamp tag.
func validateRunID(id string) error {
	if _, err := time.Parse(types.RunIDLayout, id); err != nil {
		return fmt.Errorf("invalid run id %q, expected YYYYMMDD_HHMMSS", id)
	}
	return nil
}
