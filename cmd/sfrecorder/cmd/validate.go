package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/sfrecorder/internal/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and check the database connection",
	Long: `Validate checks the configuration without starting the browser.

Checks performed:
  - Configuration syntax and required fields
  - Search date range and field mapping
  - Recorder credentials (flags or environment)
  - Database connectivity, unless --skip-db is set

Example:
  sfrecorder validate --config sfrecorder.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting validation checks...")

	out := outputWriter
	fmt.Fprintf(out, "\n=== Configuration Validation ===\n")
	fmt.Fprintf(out, "Config file: %s\n", GetConfigFile())
	fmt.Fprintf(out, "Site: %s\n", cfg.Site.BaseURL)
	fmt.Fprintf(out, "Search: %s to %s\n", cfg.Search.FromDate, cfg.Search.ToDate)
	fmt.Fprintf(out, "Fields: %s (key %s)\n", strings.Join(cfg.FieldNames(), ", "), cfg.KeyField)
	fmt.Fprintf(out, "Output: %s\n", cfg.Output.Dir)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "\n✗ Configuration invalid\n")
		return err
	}
	fmt.Fprintf(out, "✓ Configuration valid\n")

	if err := cfg.ValidateCredentials(); err != nil {
		fmt.Fprintf(out, "⚠ %v\n", err)
	} else {
		fmt.Fprintf(out, "✓ Credentials present for %s\n", cfg.Credentials.Email)
	}

	if !cfg.Database.Enabled {
		fmt.Fprintf(out, "- Database disabled, CSV output only\n")
		return nil
	}

	ctx := commandContext(cmd)
	mgr, err := openDatabase(ctx, &cfg.Database)
	if err != nil {
		fmt.Fprintf(out, "✗ Database %s@%s:%d/%s unreachable\n",
			cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer mgr.Close()

	if err := mgr.Ping(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Database %s (%s) reachable, table %s\n",
		cfg.Database.Database, mgr.Dialect, cfg.Database.Table)

	fmt.Fprintf(out, "\n✓ All checks passed\n")
	return nil
}
