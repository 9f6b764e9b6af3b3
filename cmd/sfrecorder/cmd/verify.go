package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/sink"
	"github.com/dbsmedya/sfrecorder/internal/verifier"
)

var (
	verifyRun    string
	verifyMethod string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a run's outputs against each other",
	Long: `Verify reads the per-page CSV files of a run and compares them with
the combined CSV and, unless --skip-db is set, with the records table.

Methods:
  count   compare row and key counts (fast)
  sha256  also compare hashes of the rows and keys
  skip    do nothing

Example:
  sfrecorder verify --run 20250512_101500 --method sha256`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyRun, "run", "",
		"Run ID to verify, e.g. 20250512_101500 (required)")
	verifyCmd.MarkFlagRequired("run")
	verifyCmd.Flags().StringVar(&verifyMethod, "method", string(verifier.MethodCount),
		"Verification method (count, sha256, skip)")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	if err := validateRunID(verifyRun); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	log = log.WithRun(verifyRun)

	schema, err := buildSchema(cfg)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	// Left nil when the database is disabled so only the CSV check runs.
	var keys verifier.KeySource
	if cfg.Database.Enabled {
		mgr, err := openDatabase(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer mgr.Close()

		store, err := sink.NewStore(mgr.DB, mgr.Dialect, cfg.Database.Table, schema, verifyRun, log)
		if err != nil {
			return err
		}
		keys = store
	}

	v, err := verifier.NewVerifier(cfg.Output.Dir, verifyRun, cfg.Output.CombinedCSV, schema, keys,
		verifier.VerificationMethod(verifyMethod), log)
	if err != nil {
		return err
	}

	stats, err := v.Verify(ctx)
	if stats != nil {
		newPrinter(cfg).Verification(verifyRun, stats)
	}
	return err
}
