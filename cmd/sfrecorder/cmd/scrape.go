package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/sfrecorder/internal/browser"
	"github.com/dbsmedya/sfrecorder/internal/config"
	"github.com/dbsmedya/sfrecorder/internal/database"
	"github.com/dbsmedya/sfrecorder/internal/lock"
	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/scraper"
	"github.com/dbsmedya/sfrecorder/internal/sink"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

// newBrowser starts the browser for a run. Replaced in tests.
var newBrowser = func(cfg *config.BrowserConfig, log *logger.Logger) (browser.Browser, error) {
	c, err := browser.NewChrome(cfg, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := database.SetupSignalHandler(commandContext(cmd), func(sig os.Signal) {
		log.Warnf("Received %s - finishing the current page...", sig)
	})
	defer stop()

	summary, err := scrape(ctx, cfg, log)
	if summary != nil {
		newPrinter(cfg).Summary(summary)
	}
	return err
}

// scrape runs one end-to-end scrape: it prepares the persistence targets,
// starts the browser and hands both to the pagination driver.
func scrape(ctx context.Context, cfg *config.Config, log *logger.Logger) (*scraper.Summary, error) {
	schema, err := buildSchema(cfg)
	if err != nil {
		return nil, err
	}

	run := types.NewRun(now())
	log = log.WithRun(run.ID)
	log.Infow("Starting scrape",
		"from", cfg.Search.FromDate,
		"to", cfg.Search.ToDate,
		"output", cfg.Output.Dir,
		"database", cfg.Database.Enabled,
	)

	combinedPath := cfg.Output.CombinedCSV
	if combinedPath == "" {
		combinedPath = sink.CombinedCSVPath(cfg.Output.Dir, run.ID)
	}
	writers := []sink.Writer{
		sink.NewPageCSVWriter(cfg.Output.Dir, run.ID, schema),
		sink.NewCombinedCSVWriter(combinedPath, schema),
	}

	var session *dbSession
	if cfg.Database.Enabled {
		session, err = openDBSession(ctx, cfg, schema, run.ID, log)
		switch {
		case errors.Is(err, lock.ErrLockTimeout):
			return nil, fmt.Errorf("another run is writing to %s: %w", cfg.Database.Table, err)
		case err != nil:
			log.Errorw("Database unavailable, continuing with CSV output only", "error", err)
			writers = append(writers, sink.UnavailableDatabase(err))
		default:
			defer session.close(log)
			writers = append(writers, sink.NewDatabaseWriter(session.store))
		}
	}

	out := sink.New(log, writers...)
	if session != nil && session.runLog != nil {
		if err := session.runLog.StartRun(ctx, run, cfg.Search.FromDate, cfg.Search.ToDate); err != nil {
			log.Warnf("Run log disabled: %v", err)
			session.runLog = nil
		} else {
			out.SetRecorder(session.runLog)
		}
	}

	b, err := newBrowser(&cfg.Browser, log)
	if err != nil {
		out.Close()
		finishRunLog(session, nil, err, log)
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	defer b.Close()

	driver, err := scraper.NewDriver(run,
		scraper.DriverConfig{
			Credentials: cfg.Credentials,
			Query:       scraper.QueryFromConfig(cfg.Search),
			Retry:       cfg.Retry,
			MaxPages:    cfg.Search.MaxPages,
		},
		scraper.NewAuthenticator(b, cfg.Site, cfg.Browser, log),
		scraper.NewNavigator(cfg.Site, cfg.Browser, log),
		scraper.NewExtractor(cfg.Site, cfg.Browser, schema, log),
		out,
		log,
	)
	if err != nil {
		out.Close()
		return nil, err
	}

	summary, err := driver.Run(ctx)
	finishRunLog(session, summary, err, log)

	if err != nil {
		log.Errorw("Scrape failed", "state", summary.State, "error", err)
	} else {
		log.Infow("Scrape finished",
			"pages", summary.PagesSucceeded,
			"records", summary.RecordsExtracted,
			"skipped", len(summary.Skipped),
			"duration", summary.Duration,
		)
	}
	return summary, err
}

// finishRunLog stores the run outcome. It uses a fresh context so an
// interrupted run is still recorded as aborted.
func finishRunLog(session *dbSession, summary *scraper.Summary, runErr error, log *logger.Logger) {
	if session == nil || session.runLog == nil {
		return
	}
	status := sink.RunStatusAborted
	pages := 0
	if summary != nil {
		pages = summary.PagesTotal
		if summary.State == scraper.StateDone {
			status = sink.RunStatusCompleted
		}
	}
	if err := session.runLog.FinishRun(context.Background(), status, pages, runErr); err != nil {
		log.Warnf("Failed to finish run log: %v", err)
	}
}
