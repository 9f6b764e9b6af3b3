package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/dbsmedya/sfrecorder/internal/config"
	"github.com/dbsmedya/sfrecorder/internal/logger"
)

const pollInterval = 250 * time.Millisecond

// Chrome implements Browser on top of chromedp.
type Chrome struct {
	ctx     context.Context // chromedp tab context
	cancel  func()
	timeout time.Duration
	log     *logger.Logger
}

// NewChrome launches Chrome with the configured window, profile and download settings.
func NewChrome(cfg *config.BrowserConfig, log *logger.Logger) (*Chrome, error) {
	if cfg.TempDir != "" {
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.TempDir != "" {
		profile, err := filepath.Abs(filepath.Join(cfg.TempDir, "chrome-profile"))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve profile dir: %w", err)
		}
		opts = append(opts, chromedp.UserDataDir(profile))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Debugf))

	c := &Chrome{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		timeout: cfg.Timeout,
		log:     log,
	}

	// Starts the browser process.
	actions := []chromedp.Action{chromedp.Navigate("about:blank")}
	if cfg.DownloadDir != "" {
		dir, err := filepath.Abs(cfg.DownloadDir)
		if err == nil {
			err = os.MkdirAll(dir, 0o755)
		}
		if err != nil {
			c.cancel()
			return nil, fmt.Errorf("failed to prepare download dir: %w", err)
		}
		actions = append(actions, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(dir).
			WithEventsEnabled(true))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		c.cancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	log.Debugw("Chrome started", "headless", cfg.Headless, "window", fmt.Sprintf("%dx%d", cfg.WindowWidth, cfg.WindowHeight))
	return c, nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = c.timeout
	}
	runCtx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return err
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Location(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, 0, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

func (c *Chrome) Click(ctx context.Context, selector string) error {
	if err := c.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (c *Chrome) SendKeys(ctx context.Context, selector, value string) error {
	if err := c.run(ctx, 0, chromedp.SendKeys(selector, value, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("send keys %s: %w", selector, err)
	}
	return nil
}

func (c *Chrome) Clear(ctx context.Context, selector string) error {
	if err := c.run(ctx, 0, chromedp.Clear(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clear %s: %w", selector, err)
	}
	return nil
}

func (c *Chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := c.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %s: %w", selector, err)
	}
	return nil
}

func (c *Chrome) WaitURLContains(ctx context.Context, fragment string, timeout time.Duration) error {
	_, err := c.pollLocation(ctx, timeout, func(loc string) bool {
		return strings.Contains(loc, fragment)
	})
	if err != nil {
		return fmt.Errorf("wait for url containing %q: %w", fragment, err)
	}
	return nil
}

func (c *Chrome) WaitURLChange(ctx context.Context, from string, timeout time.Duration) (string, error) {
	loc, err := c.pollLocation(ctx, timeout, func(loc string) bool {
		return loc != from
	})
	if err != nil {
		return "", fmt.Errorf("wait for url change from %s: %w", from, err)
	}
	return loc, nil
}

func (c *Chrome) pollLocation(ctx context.Context, timeout time.Duration, done func(string) bool) (string, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	deadline := time.Now().Add(timeout)
	for {
		loc, err := c.Location(ctx)
		if err == nil && done(loc) {
			return loc, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *Chrome) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	if err := c.run(ctx, 0, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return false, fmt.Errorf("query %s: %w", selector, err)
	}
	return len(nodes) > 0, nil
}

func (c *Chrome) Enabled(ctx context.Context, selector string) (bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	script := fmt.Sprintf(`(function(){var el=document.querySelector(%s);return !!el && !el.disabled;})()`, sel)

	var enabled bool
	if err := c.run(ctx, 0, chromedp.Evaluate(script, &enabled)); err != nil {
		return false, fmt.Errorf("enabled %s: %w", selector, err)
	}
	return enabled, nil
}

func (c *Chrome) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := c.run(ctx, 0, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return "", fmt.Errorf("text %s: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

func (c *Chrome) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := c.run(ctx, 0, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html %s: %w", selector, err)
	}
	return html, nil
}

func (c *Chrome) Evaluate(ctx context.Context, script string, res interface{}) error {
	if err := c.run(ctx, 0, chromedp.Evaluate(script, res)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Close shuts down the tab and the browser process.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}
