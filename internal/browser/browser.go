// Package browser drives the recorder website through a real Chrome session.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a bounded wait expires.
var ErrTimeout = errors.New("browser wait timed out")

// Browser is the subset of browser automation the scraper relies on.
// Every method blocks until the action completes or its wait bound expires.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, value string) error
	Clear(ctx context.Context, selector string) error
	// WaitVisible waits for selector to become visible. A zero timeout uses
	// the browser default.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitURLContains(ctx context.Context, fragment string, timeout time.Duration) error
	// WaitURLChange waits until the location differs from from.
	WaitURLChange(ctx context.Context, from string, timeout time.Duration) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Enabled(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	OuterHTML(ctx context.Context, selector string) (string, error)
	Evaluate(ctx context.Context, script string, res interface{}) error
	Close() error
}
