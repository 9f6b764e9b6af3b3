// Package browsertest provides a scripted in-memory Browser for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dbsmedya/sfrecorder/internal/browser"
)

// Element is one addressable node of the fake page.
type Element struct {
	Visible  bool
	Disabled bool
	Text     string
	Value    string
	HTML     string
}

// Fake is a Browser whose page state is a map of selectors to Elements.
// Hooks let a test change the state in response to clicks, navigations
// and scripts. Waits never block: a condition that does not hold at call
// time fails with browser.ErrTimeout.
type Fake struct {
	mu sync.Mutex

	URL      string
	Elements map[string]*Element

	OnNavigate func(f *Fake, url string) error
	OnClick    map[string]func(f *Fake) error
	OnEvaluate func(f *Fake, script string) error
	// Fail forces an error for "Method selector" keys, e.g. "Click #login".
	Fail map[string]error

	Navigations []string
	Clicks      []string
	Scripts     []string
	Closed      bool
}

// New returns an empty Fake positioned at url.
func New(url string) *Fake {
	return &Fake{
		URL:      url,
		Elements: map[string]*Element{},
		OnClick:  map[string]func(*Fake) error{},
		Fail:     map[string]error{},
	}
}

var _ browser.Browser = (*Fake)(nil)

// Set places a visible, enabled element on the page.
func (f *Fake) Set(selector string, el Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := el
	f.Elements[selector] = &e
}

// Show places a visible element with the given text.
func (f *Fake) Show(selector, text string) {
	f.Set(selector, Element{Visible: true, Text: text})
}

// Remove deletes an element from the page.
func (f *Fake) Remove(selector string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Elements, selector)
}

// SetURL changes the current location.
func (f *Fake) SetURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.URL = url
}

// Value returns the value typed into an element.
func (f *Fake) Value(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if el, ok := f.Elements[selector]; ok {
		return el.Value
	}
	return ""
}

// ClickCount returns how often selector was clicked.
func (f *Fake) ClickCount(selector string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Clicks {
		if c == selector {
			n++
		}
	}
	return n
}

func (f *Fake) failure(method, selector string) error {
	if err, ok := f.Fail[method+" "+selector]; ok {
		return err
	}
	return nil
}

func (f *Fake) visible(selector string) (*Element, error) {
	el, ok := f.Elements[selector]
	if !ok || !el.Visible {
		return nil, fmt.Errorf("element %s: %w", selector, browser.ErrTimeout)
	}
	return el, nil
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if err := f.failure("Navigate", url); err != nil {
		f.mu.Unlock()
		return err
	}
	f.Navigations = append(f.Navigations, url)
	f.URL = url
	hook := f.OnNavigate
	f.mu.Unlock()

	if hook != nil {
		return hook(f, url)
	}
	return nil
}

func (f *Fake) Location(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.URL, ctx.Err()
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if err := f.failure("Click", selector); err != nil {
		f.mu.Unlock()
		return err
	}
	if _, err := f.visible(selector); err != nil {
		f.mu.Unlock()
		return err
	}
	f.Clicks = append(f.Clicks, selector)
	hook := f.OnClick[selector]
	f.mu.Unlock()

	if hook != nil {
		return hook(f)
	}
	return nil
}

func (f *Fake) SendKeys(ctx context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SendKeys", selector); err != nil {
		return err
	}
	el, err := f.visible(selector)
	if err != nil {
		return err
	}
	el.Value += value
	return ctx.Err()
}

func (f *Fake) Clear(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.Elements[selector]
	if !ok {
		return fmt.Errorf("element %s: %w", selector, browser.ErrTimeout)
	}
	el.Value = ""
	return ctx.Err()
}

func (f *Fake) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("WaitVisible", selector); err != nil {
		return err
	}
	_, err := f.visible(selector)
	return err
}

func (f *Fake) WaitURLContains(ctx context.Context, fragment string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.Contains(f.URL, fragment) {
		return fmt.Errorf("url %s does not contain %q: %w", f.URL, fragment, browser.ErrTimeout)
	}
	return nil
}

func (f *Fake) WaitURLChange(ctx context.Context, from string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.URL == from {
		return "", fmt.Errorf("url stayed at %s: %w", from, browser.ErrTimeout)
	}
	return f.URL, nil
}

func (f *Fake) Exists(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Elements[selector]
	return ok, ctx.Err()
}

func (f *Fake) Enabled(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.Elements[selector]
	return ok && !el.Disabled, ctx.Err()
}

func (f *Fake) Text(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("Text", selector); err != nil {
		return "", err
	}
	el, err := f.visible(selector)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(el.Text), nil
}

func (f *Fake) OuterHTML(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("OuterHTML", selector); err != nil {
		return "", err
	}
	el, ok := f.Elements[selector]
	if !ok {
		return "", fmt.Errorf("element %s: %w", selector, browser.ErrTimeout)
	}
	return el.HTML, nil
}

func (f *Fake) Evaluate(ctx context.Context, script string, res interface{}) error {
	f.mu.Lock()
	f.Scripts = append(f.Scripts, script)
	hook := f.OnEvaluate
	f.mu.Unlock()

	if hook != nil {
		return hook(f, script)
	}
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
