// Package scraper drives the recorder website: sign on, search, and walk the result pages.
package scraper

import (
	"errors"
	"fmt"
)

// ErrNoPagesPersisted is returned when the search found pages but none of
// them reached any persistence target.
var ErrNoPagesPersisted = errors.New("no result pages were persisted")

// AuthError reports a failed sign-on. It is fatal and never retried.
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed at %s: %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NavigationError reports a search that did not reach a readable results page.
type NavigationError struct {
	Step string
	Err  error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("search navigation failed at %s: %v", e.Step, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ExtractionError reports a result page that could not be read.
type ExtractionError struct {
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract page %d: %v", e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
