package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/sfrecorder/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile    string
	logLevel   string
	logFormat  string
	outputDir  string
	dbDriver   string
	dbName     string
	dbUser     string
	dbPassword string
	dbHost     string
	dbPort     int
	skipDB     bool
	noColor    bool
	email      string
	password   string
	headless   bool
	csvOutput  string
	tempDir    string
	fromDate   string
	toDate     string
	maxPages   int
)

var rootCmd = &cobra.Command{
	Use:   "sfrecorder",
	Short: "San Francisco Recorder search results scraper",
	Long: `Signs in to the San Francisco Assessor-Recorder website, runs an
advanced search over a recording date range and walks the result pages.

Every page is written, as soon as it is read, to:
  - a per-page CSV file in the output directory
  - a combined CSV file for the whole run
  - the recorder_records table (upsert keyed by document number)

A page that cannot be read after its retries is skipped and the run goes on.

Example:
  sfrecorder --email me@example.com --password secret --headless \
    --from-date 05/01/2025 --to-date 05/07/2025`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runScrape,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "sfrecorder.yaml",
		"Path to configuration file (optional unless set explicitly)")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable coloured summary output")

	// Output and database overrides, shared with reload and verify
	rootCmd.PersistentFlags().StringVar(&outputDir, "output", "",
		"Directory for per-page CSV files (default data)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "",
		"Database driver (mysql, postgres)")
	rootCmd.PersistentFlags().StringVar(&dbName, "db-name", "", "Database name")
	rootCmd.PersistentFlags().StringVar(&dbUser, "db-user", "", "Database user")
	rootCmd.PersistentFlags().StringVar(&dbPassword, "db-password", "", "Database password")
	rootCmd.PersistentFlags().StringVar(&dbHost, "db-host", "", "Database host")
	rootCmd.PersistentFlags().IntVar(&dbPort, "db-port", 0, "Database port")
	rootCmd.PersistentFlags().BoolVar(&skipDB, "skip-db", false,
		"Write CSV files only")

	// Scrape flags
	rootCmd.Flags().StringVar(&email, "email", "",
		"Recorder account email (or "+config.EnvEmail+")")
	rootCmd.Flags().StringVar(&password, "password", "",
		"Recorder account password (or "+config.EnvPassword+")")
	rootCmd.Flags().BoolVar(&headless, "headless", false,
		"Run Chrome without a window")
	rootCmd.Flags().StringVar(&csvOutput, "csv-output", "",
		"Combined CSV path (default <output>/sf_recorder_all_<run>.csv)")
	rootCmd.Flags().StringVar(&tempDir, "temp-dir", "",
		"Directory for the browser profile (default tmp)")
	rootCmd.Flags().StringVar(&fromDate, "from-date", "",
		"First recording date, MM/DD/YYYY (default: lookback window)")
	rootCmd.Flags().StringVar(&toDate, "to-date", "",
		"Last recording date, MM/DD/YYYY (default: today)")
	rootCmd.Flags().IntVar(&maxPages, "max-pages", 0,
		"Stop after this many result pages (0 reads all)")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() config.Overrides {
	return config.Overrides{
		Email:       email,
		Password:    password,
		Headless:    headless,
		OutputDir:   outputDir,
		CombinedCSV: csvOutput,
		TempDir:     tempDir,
		LogLevel:    logLevel,
		LogFormat:   logFormat,
		DBDriver:    dbDriver,
		DBName:      dbName,
		DBUser:      dbUser,
		DBPassword:  dbPassword,
		DBHost:      dbHost,
		DBPort:      dbPort,
		SkipDB:      skipDB,
		FromDate:    fromDate,
		ToDate:      toDate,
		MaxPages:    maxPages,
	}
}
