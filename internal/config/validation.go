package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
// Credentials are checked separately by ValidateCredentials since only the
// scrape command needs them.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateSite()...)
	errors = append(errors, c.validateBrowser()...)
	errors = append(errors, c.validateSearch()...)
	errors = append(errors, c.validateOutput()...)
	if c.Database.Enabled {
		errors = append(errors, c.validateDatabase()...)
	}
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateFields()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

// ValidateCredentials checks that both email and password are present.
func (c *Config) ValidateCredentials() error {
	var errors ValidationErrors
	if strings.TrimSpace(c.Credentials.Email) == "" {
		errors = append(errors, ValidationError{
			Field:   "credentials.email",
			Message: fmt.Sprintf("email is required (--email or %s)", EnvEmail),
		})
	}
	if c.Credentials.Password == "" {
		errors = append(errors, ValidationError{
			Field:   "credentials.password",
			Message: fmt.Sprintf("password is required (--password or %s)", EnvPassword),
		})
	}
	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateSite() ValidationErrors {
	var errors ValidationErrors

	if !strings.HasPrefix(c.Site.BaseURL, "http://") && !strings.HasPrefix(c.Site.BaseURL, "https://") {
		errors = append(errors, ValidationError{
			Field:   "site.base_url",
			Message: "base_url must be an http(s) URL",
		})
	}

	required := map[string]string{
		"site.email_input":    c.Site.EmailInput,
		"site.password_input": c.Site.PasswordInput,
		"site.login_button":   c.Site.LoginButton,
		"site.results_table":  c.Site.ResultsTable,
		"site.page_indicator": c.Site.PageIndicator,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "selector is required",
			})
		}
	}

	if !strings.Contains(c.Site.PageLink, "%d") {
		errors = append(errors, ValidationError{
			Field:   "site.page_link",
			Message: "page_link must contain a %d placeholder for the page number",
		})
	}

	return errors
}

func (c *Config) validateBrowser() ValidationErrors {
	var errors ValidationErrors

	if c.Browser.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "browser.timeout",
			Message: "timeout must be positive",
		})
	}
	if c.Browser.SearchTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "browser.search_timeout",
			Message: "search_timeout must be positive",
		})
	}
	if c.Browser.CaptchaTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "browser.captcha_timeout",
			Message: "captcha_timeout cannot be negative",
		})
	}
	if c.Browser.WindowWidth < 0 || c.Browser.WindowHeight < 0 {
		errors = append(errors, ValidationError{
			Field:   "browser.window_width",
			Message: "window size cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateSearch() ValidationErrors {
	var errors ValidationErrors

	var from, to time.Time
	var fromErr, toErr error
	if c.Search.FromDate != "" {
		from, fromErr = time.Parse(SearchDateLayout, c.Search.FromDate)
		if fromErr != nil {
			errors = append(errors, ValidationError{
				Field:   "search.from_date",
				Message: "from_date must be MM/DD/YYYY",
			})
		}
	}
	if c.Search.ToDate != "" {
		to, toErr = time.Parse(SearchDateLayout, c.Search.ToDate)
		if toErr != nil {
			errors = append(errors, ValidationError{
				Field:   "search.to_date",
				Message: "to_date must be MM/DD/YYYY",
			})
		}
	}
	if c.Search.FromDate != "" && c.Search.ToDate != "" && fromErr == nil && toErr == nil && from.After(to) {
		errors = append(errors, ValidationError{
			Field:   "search.from_date",
			Message: "from_date must not be after to_date",
		})
	}
	if c.Search.MaxPages < 0 {
		errors = append(errors, ValidationError{
			Field:   "search.max_pages",
			Message: "max_pages cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateOutput() ValidationErrors {
	var errors ValidationErrors
	if strings.TrimSpace(c.Output.Dir) == "" {
		errors = append(errors, ValidationError{
			Field:   "output.dir",
			Message: "output directory is required",
		})
	}
	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors
	db := &c.Database

	validDrivers := map[string]bool{"mysql": true, "postgres": true}
	if !validDrivers[db.Driver] {
		errors = append(errors, ValidationError{
			Field:   "database.driver",
			Message: "driver must be 'mysql' or 'postgres'",
		})
	}

	if db.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "host is required",
		})
	}

	if db.Port <= 0 || db.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if db.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "user is required",
		})
	}

	if db.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "database name is required",
		})
	}

	if db.Table == "" {
		errors = append(errors, ValidationError{
			Field:   "database.table",
			Message: "table name is required",
		})
	}

	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[db.TLS] {
		errors = append(errors, ValidationError{
			Field:   "database.tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}

	if db.MaxConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "database.max_connections",
			Message: "max_connections cannot be negative",
		})
	}

	if db.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "database.max_idle_connections",
			Message: "max_idle_connections cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateRetry() ValidationErrors {
	var errors ValidationErrors

	if c.Retry.NavigationAttempts <= 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.navigation_attempts",
			Message: "navigation_attempts must be positive",
		})
	}
	if c.Retry.ExtractionAttempts <= 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.extraction_attempts",
			Message: "extraction_attempts must be positive",
		})
	}
	if c.Retry.Backoff < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.backoff",
			Message: "backoff cannot be negative",
		})
	}
	if c.Retry.MaxConsecutiveFailures < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_consecutive_failures",
			Message: "max_consecutive_failures cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{
		"debug": true, "info": true, "warning": true, "warn": true,
		"error": true, "critical": true, "": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be DEBUG, INFO, WARNING, ERROR, or CRITICAL",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}

func (c *Config) validateFields() ValidationErrors {
	var errors ValidationErrors

	if len(c.Fields) == 0 {
		return append(errors, ValidationError{
			Field:   "fields",
			Message: "at least one field mapping is required",
		})
	}

	seen := make(map[string]bool, len(c.Fields))
	hasKey := false
	for i, f := range c.Fields {
		prefix := fmt.Sprintf("fields[%d]", i)
		if f.Name == "" {
			errors = append(errors, ValidationError{Field: prefix + ".name", Message: "name is required"})
		}
		if f.Header == "" {
			errors = append(errors, ValidationError{Field: prefix + ".header", Message: "header is required"})
		}
		if seen[f.Name] {
			errors = append(errors, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate field %q", f.Name)})
		}
		seen[f.Name] = true
		if f.Name == c.KeyField {
			hasKey = true
		}
	}

	if !hasKey {
		errors = append(errors, ValidationError{
			Field:   "key_field",
			Message: fmt.Sprintf("key_field %q must name one of the configured fields", c.KeyField),
		})
	}

	return errors
}
