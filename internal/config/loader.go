package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment variables consulted when the matching flag is absent.
const (
	EnvEmail      = "SF_RECORDER_EMAIL"
	EnvPassword   = "SF_RECORDER_PASSWORD"
	EnvDBPassword = "SF_RECORDER_DB_PASSWORD"
)

// SearchDateLayout is the date format the recorder search form expects.
const SearchDateLayout = "01/02/2006"

// Load reads configuration from the specified file path.
// It supports YAML files and performs environment variable substitution.
// A missing file is tolerated unless required is set.
func Load(configPath string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	if _, err := os.Stat(configPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper creates a Config from an existing Viper instance.
// Useful for testing or when Viper is configured externally.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	// A configured field list replaces the default mapping instead of merging into it.
	if v.IsSet("fields") {
		cfg.Fields = nil
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	substituteEnvVars(cfg)
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(cfg *Config) {
	cfg.Credentials.Email = expandEnvVar(cfg.Credentials.Email)
	cfg.Credentials.Password = expandEnvVar(cfg.Credentials.Password)

	cfg.Database.Host = expandEnvVar(cfg.Database.Host)
	cfg.Database.User = expandEnvVar(cfg.Database.User)
	cfg.Database.Password = expandEnvVar(cfg.Database.Password)
	cfg.Database.Database = expandEnvVar(cfg.Database.Database)

	cfg.Output.Dir = expandEnvVar(cfg.Output.Dir)
	cfg.Output.CombinedCSV = expandEnvVar(cfg.Output.CombinedCSV)
	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Return original if env var not found
		return match
	})
}

// ApplyEnv fills credentials from the environment where the config left them empty.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvEmail); ok && v != "" {
		c.Credentials.Email = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Credentials.Password = v
	}
	if v, ok := lookup(EnvDBPassword); ok && v != "" && c.Database.Password == "" {
		c.Database.Password = v
	}
}

// Overrides contains CLI flag values. Only non-zero/non-empty values are applied.
type Overrides struct {
	Email       string
	Password    string
	Headless    bool
	OutputDir   string
	CombinedCSV string
	TempDir     string
	LogLevel    string
	LogFormat   string
	DBDriver    string
	DBName      string
	DBUser      string
	DBPassword  string
	DBHost      string
	DBPort      int
	SkipDB      bool
	FromDate    string
	ToDate      string
	MaxPages    int
}

// ApplyOverrides applies CLI flag overrides; flags take precedence over
// the environment and the config file.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Email != "" {
		c.Credentials.Email = o.Email
	}
	if o.Password != "" {
		c.Credentials.Password = o.Password
	}
	if o.Headless {
		c.Browser.Headless = true
	}
	if o.OutputDir != "" {
		c.Output.Dir = o.OutputDir
	}
	if o.CombinedCSV != "" {
		c.Output.CombinedCSV = o.CombinedCSV
	}
	if o.TempDir != "" {
		c.Browser.TempDir = o.TempDir
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Logging.Format = o.LogFormat
	}
	if o.DBDriver != "" && o.DBDriver != c.Database.Driver {
		// Keep the port in step with the driver unless it was set explicitly.
		if c.Database.Port == DefaultPort(c.Database.Driver) {
			c.Database.Port = DefaultPort(o.DBDriver)
		}
		c.Database.Driver = o.DBDriver
	}
	if o.DBName != "" {
		c.Database.Database = o.DBName
	}
	if o.DBUser != "" {
		c.Database.User = o.DBUser
	}
	if o.DBPassword != "" {
		c.Database.Password = o.DBPassword
	}
	if o.DBHost != "" {
		c.Database.Host = o.DBHost
	}
	if o.DBPort > 0 {
		c.Database.Port = o.DBPort
	}
	if o.SkipDB {
		c.Database.Enabled = false
	}
	if o.FromDate != "" {
		c.Search.FromDate = o.FromDate
	}
	if o.ToDate != "" {
		c.Search.ToDate = o.ToDate
	}
	if o.MaxPages > 0 {
		c.Search.MaxPages = o.MaxPages
	}
}

// ResolveSearchDates fills an empty date range with the lookback window ending at now.
func (c *Config) ResolveSearchDates(now time.Time) {
	if c.Search.ToDate == "" {
		c.Search.ToDate = now.Format(SearchDateLayout)
	}
	if c.Search.FromDate == "" {
		days := c.Search.LookbackDays
		if days <= 0 {
			days = 7
		}
		to, err := time.Parse(SearchDateLayout, c.Search.ToDate)
		if err != nil {
			to = now
		}
		c.Search.FromDate = to.AddDate(0, 0, -days).Format(SearchDateLayout)
	}
}

// FieldNames returns the configured record field names in column order.
func (c *Config) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		names = append(names, f.Name)
	}
	return names
}
