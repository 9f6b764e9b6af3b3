// Package sqlutil provides dialect-aware SQL helpers for sfrecorder.
package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect is the SQL flavour of the configured database.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql", "":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "mysql"
}

// QuoteIdentifier quotes a table or column name. MySQL uses backticks and
// Postgres uses double quotes; embedded quote characters are doubled.
// Example: "my_table" -> "`my_table`" (MySQL), "\"my_table\"" (Postgres)
func (d Dialect) QuoteIdentifier(name string) string {
	if d == Postgres {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteIdentifierSafe quotes an identifier after validating it.
// Use this for names taken from configuration.
func (d Dialect) QuoteIdentifierSafe(name string) (string, error) {
	if !IsValidIdentifier(name) {
		return "", &InvalidIdentifierError{Name: name}
	}
	return d.QuoteIdentifier(name), nil
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Placeholders returns a comma separated list of markers for args start..start+count-1.
func (d Dialect) Placeholders(start, count int) string {
	marks := make([]string, count)
	for i := range marks {
		marks[i] = d.Placeholder(start + i)
	}
	return strings.Join(marks, ", ")
}

// UpsertClause renders the conflict clause that turns an INSERT into an
// upsert on the unique key columns, updating every column in update.
func (d Dialect) UpsertClause(keys []string, update []string) string {
	sets := make([]string, len(update))
	for i, col := range update {
		q := d.QuoteIdentifier(col)
		if d == Postgres {
			sets[i] = q + " = EXCLUDED." + q
		} else {
			sets[i] = q + " = VALUES(" + q + ")"
		}
	}

	if d == Postgres {
		quoted := make([]string, len(keys))
		for i, k := range keys {
			quoted[i] = d.QuoteIdentifier(k)
		}
		target := "ON CONFLICT (" + strings.Join(quoted, ", ") + ")"
		if len(sets) == 0 {
			return target + " DO NOTHING"
		}
		return target + " DO UPDATE SET " + strings.Join(sets, ", ")
	}

	if len(sets) == 0 {
		// MySQL has no DO NOTHING; a self-assignment keeps the statement an upsert.
		q := d.QuoteIdentifier(keys[0])
		return "ON DUPLICATE KEY UPDATE " + q + " = " + q
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

// validIdentifierRegex restricts configured names to alphanumerics and underscores.
var validIdentifierRegex = regexp.MustCompile("^[a-zA-Z0-9_]+$")

// IsValidIdentifier checks if a name only contains alphanumeric characters and underscores.
func IsValidIdentifier(name string) bool {
	return validIdentifierRegex.MatchString(name)
}

// InvalidIdentifierError is returned when an identifier contains invalid characters.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return "invalid identifier: " + e.Name + " (must contain only alphanumeric characters and underscores)"
}
