// Package config provides configuration structures and loading for sfrecorder.
package config

import "time"

// Config represents the complete application configuration.
// It is built once at startup and handed to each component explicitly.
type Config struct {
	Site        SiteConfig        `yaml:"site" mapstructure:"site"`
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`
	Browser     BrowserConfig     `yaml:"browser" mapstructure:"browser"`
	Search      SearchConfig      `yaml:"search" mapstructure:"search"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Database    DatabaseConfig    `yaml:"database" mapstructure:"database"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Fields      []FieldConfig     `yaml:"fields" mapstructure:"fields"`
	KeyField    string            `yaml:"key_field" mapstructure:"key_field"`
}

// SiteConfig describes the recorder website and the selectors used to drive it.
type SiteConfig struct {
	BaseURL              string `yaml:"base_url" mapstructure:"base_url"`
	DisclaimerButton     string `yaml:"disclaimer_button" mapstructure:"disclaimer_button"`
	SignOnLink           string `yaml:"sign_on_link" mapstructure:"sign_on_link"`
	EmailInput           string `yaml:"email_input" mapstructure:"email_input"`
	PasswordInput        string `yaml:"password_input" mapstructure:"password_input"`
	CaptchaInput         string `yaml:"captcha_input" mapstructure:"captcha_input"`
	LoginButton          string `yaml:"login_button" mapstructure:"login_button"`
	AdvancedSearchButton string `yaml:"advanced_search_button" mapstructure:"advanced_search_button"`
	FromDateInput        string `yaml:"from_date_input" mapstructure:"from_date_input"`
	ToDateInput          string `yaml:"to_date_input" mapstructure:"to_date_input"`
	DocTypeInput         string `yaml:"doc_type_input" mapstructure:"doc_type_input"`
	SearchButton         string `yaml:"search_button" mapstructure:"search_button"`
	ResultsURLFragment   string `yaml:"results_url_fragment" mapstructure:"results_url_fragment"`
	ResultsTable         string `yaml:"results_table" mapstructure:"results_table"`
	PageIndicator        string `yaml:"page_indicator" mapstructure:"page_indicator"`
	NoResults            string `yaml:"no_results" mapstructure:"no_results"`
	PageLink             string `yaml:"page_link" mapstructure:"page_link"` // fmt template taking the page number
}

// CredentialsConfig holds the recorder account used to sign in.
type CredentialsConfig struct {
	Email    string `yaml:"email" mapstructure:"email"`
	Password string `yaml:"password" mapstructure:"password"`
}

// BrowserConfig controls the Chrome session.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" mapstructure:"headless"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`                 // bound for each element wait
	SearchTimeout  time.Duration `yaml:"search_timeout" mapstructure:"search_timeout"`   // bound for the results redirect
	CaptchaTimeout time.Duration `yaml:"captcha_timeout" mapstructure:"captcha_timeout"` // bound for an operator CAPTCHA solve
	WindowWidth    int           `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight   int           `yaml:"window_height" mapstructure:"window_height"`
	DownloadDir    string        `yaml:"download_dir" mapstructure:"download_dir"`
	TempDir        string        `yaml:"temp_dir" mapstructure:"temp_dir"`
	UserAgent      string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// SearchConfig holds the fixed search criteria submitted for a run.
type SearchConfig struct {
	FromDate     string `yaml:"from_date" mapstructure:"from_date"` // MM/DD/YYYY
	ToDate       string `yaml:"to_date" mapstructure:"to_date"`     // MM/DD/YYYY
	DocumentType string `yaml:"document_type" mapstructure:"document_type"`
	LookbackDays int    `yaml:"lookback_days" mapstructure:"lookback_days"`
	MaxPages     int    `yaml:"max_pages" mapstructure:"max_pages"` // 0 means all pages
}

// OutputConfig controls CSV output locations.
type OutputConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	CombinedCSV string `yaml:"combined_csv" mapstructure:"combined_csv"` // empty derives from Dir and run ID
}

// DatabaseConfig represents the relational database connection configuration.
type DatabaseConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver             string `yaml:"driver" mapstructure:"driver"` // mysql or postgres
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"`
	Table              string `yaml:"table" mapstructure:"table"`
	TLS                string `yaml:"tls" mapstructure:"tls"` // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
}

// RetryConfig bounds the retries applied to navigation and extraction.
type RetryConfig struct {
	NavigationAttempts     int           `yaml:"navigation_attempts" mapstructure:"navigation_attempts"`
	ExtractionAttempts     int           `yaml:"extraction_attempts" mapstructure:"extraction_attempts"`
	Backoff                time.Duration `yaml:"backoff" mapstructure:"backoff"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // DEBUG, INFO, WARNING, ERROR, CRITICAL
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// FieldConfig maps one result table column header onto a record field.
type FieldConfig struct {
	Name   string `yaml:"name" mapstructure:"name"`
	Header string `yaml:"header" mapstructure:"header"`
}

// Fixed limits of the recorder site.
const (
	MaxRecordsPerPage = 100
	DefaultTable      = "recorder_records"
	DefaultKeyField   = "doc_id"
)

// DefaultFields returns the column-to-field mapping of the recorder result grid.
func DefaultFields() []FieldConfig {
	return []FieldConfig{
		{Name: "doc_id", Header: "Document Number"},
		{Name: "date", Header: "Recording Date"},
		{Name: "doc_type", Header: "Document Type"},
		{Name: "grantor", Header: "Grantor"},
		{Name: "grantee", Header: "Grantee"},
		{Name: "apn", Header: "APN"},
	}
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			BaseURL:              "https://recorder.sfgov.org",
			DisclaimerButton:     "input[type='button'][value='Agree']",
			SignOnLink:           "a[ng-click='OnSignInClick()']",
			EmailInput:           "input[type='email']",
			PasswordInput:        "input[type='password']",
			CaptchaInput:         "input[ng-model='UserDetails.ClientCaptcha']",
			LoginButton:          "input[type='submit'][value='Login'][ng-click='LogInUser()']",
			AdvancedSearchButton: "input[type='button'][value='Advanced Search']",
			FromDateInput:        "input[name='fromDocDate']",
			ToDateInput:          "input[name='toDocDate']",
			DocTypeInput:         "input[name='docType']",
			SearchButton:         "button#btnSearch",
			ResultsURLFragment:   "searchResult",
			ResultsTable:         "table.search-results",
			PageIndicator:        ".pagination-info",
			NoResults:            ".no-results",
			PageLink:             "ul.pagination a[data-page='%d']",
		},
		Browser: BrowserConfig{
			Headless:       false,
			Timeout:        10 * time.Second,
			SearchTimeout:  100 * time.Second,
			CaptchaTimeout: 2 * time.Minute,
			WindowWidth:    1920,
			WindowHeight:   1080,
			DownloadDir:    "downloads",
			TempDir:        "tmp",
		},
		Search: SearchConfig{
			LookbackDays: 7,
		},
		Output: OutputConfig{
			Dir: "data",
		},
		Database: DatabaseConfig{
			Enabled:            true,
			Driver:             "mysql",
			Host:               "localhost",
			Port:               3306,
			Database:           "sf_recorder",
			Table:              DefaultTable,
			TLS:                "preferred",
			MaxConnections:     4,
			MaxIdleConnections: 2,
		},
		Retry: RetryConfig{
			NavigationAttempts:     3,
			ExtractionAttempts:     3,
			Backoff:                2 * time.Second,
			MaxConsecutiveFailures: 5,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Fields:   DefaultFields(),
		KeyField: DefaultKeyField,
	}
}

// DefaultPort returns the conventional port for a database driver.
func DefaultPort(driver string) int {
	if driver == "postgres" {
		return 5432
	}
	return 3306
}
