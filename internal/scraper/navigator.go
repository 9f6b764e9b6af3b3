package scraper

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dbsmedya/sfrecorder/internal/config"
	"github.com/dbsmedya/sfrecorder/internal/logger"
)

// hidePickersScript keeps the date pickers from swallowing typed input.
const hidePickersScript = `document.querySelectorAll('.datetimepicker').forEach(function (p) { p.style.display = 'none'; });`

// angularSearchScript submits the search through the page's Angular scope;
// the search button is aria-hidden and ignores synthetic clicks.
const angularSearchScript = `angular.element(document.getElementById('btnSearch')).scope().Search();`

// dateFieldBackspaces clears the masked date inputs, which ignore a plain value reset.
const dateFieldBackspaces = 10

// Query is the fixed search criteria of a run.
type Query struct {
	FromDate     string // MM/DD/YYYY
	ToDate       string // MM/DD/YYYY
	DocumentType string
}

// QueryFromConfig builds the query from resolved search settings.
func QueryFromConfig(cfg config.SearchConfig) Query {
	return Query{FromDate: cfg.FromDate, ToDate: cfg.ToDate, DocumentType: cfg.DocumentType}
}

func (q Query) String() string {
	s := q.FromDate + ".." + q.ToDate
	if q.DocumentType != "" {
		s += " type=" + q.DocumentType
	}
	return s
}

// Navigator submits the advanced search and reads the number of result pages.
type Navigator struct {
	site   config.SiteConfig
	cfg    config.BrowserConfig
	logger *logger.Logger
}

// NewNavigator creates a Navigator.
func NewNavigator(site config.SiteConfig, cfg config.BrowserConfig, log *logger.Logger) *Navigator {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Navigator{site: site, cfg: cfg, logger: log}
}

// Search fills the advanced search form and returns the number of result pages.
// Zero pages is a valid answer when the site reports no results.
func (n *Navigator) Search(ctx context.Context, s *Session, q Query) (int, error) {
	b := s.Browser

	// A retry may start from the results page; go back to the search form.
	present, err := b.Exists(ctx, n.site.AdvancedSearchButton)
	if err != nil {
		return 0, &NavigationError{Step: "advanced search", Err: err}
	}
	if !present {
		if err := b.Navigate(ctx, n.site.BaseURL); err != nil {
			return 0, &NavigationError{Step: "advanced search", Err: err}
		}
	}
	if err := b.WaitVisible(ctx, n.site.AdvancedSearchButton, 0); err != nil {
		return 0, &NavigationError{Step: "advanced search", Err: err}
	}
	if err := b.Click(ctx, n.site.AdvancedSearchButton); err != nil {
		return 0, &NavigationError{Step: "advanced search", Err: err}
	}

	if err := n.fillDate(ctx, s, n.site.FromDateInput, q.FromDate); err != nil {
		return 0, &NavigationError{Step: "from date", Err: err}
	}
	n.logger.Infof("Entered from date: %s", q.FromDate)

	if err := n.fillDate(ctx, s, n.site.ToDateInput, q.ToDate); err != nil {
		return 0, &NavigationError{Step: "to date", Err: err}
	}
	n.logger.Infof("Entered to date: %s", q.ToDate)

	if err := b.Evaluate(ctx, hidePickersScript, nil); err != nil {
		n.logger.Debugf("Hiding date pickers failed: %v", err)
	}

	if q.DocumentType != "" {
		if err := b.Clear(ctx, n.site.DocTypeInput); err != nil {
			return 0, &NavigationError{Step: "document type", Err: err}
		}
		if err := b.SendKeys(ctx, n.site.DocTypeInput, q.DocumentType); err != nil {
			return 0, &NavigationError{Step: "document type", Err: err}
		}
		n.logger.Infof("Entered document type: %s", q.DocumentType)
	}

	if err := n.submit(ctx, s); err != nil {
		return 0, &NavigationError{Step: "submit", Err: err}
	}

	if err := b.WaitURLContains(ctx, n.site.ResultsURLFragment, n.cfg.SearchTimeout); err != nil {
		return 0, &NavigationError{Step: "results redirect", Err: err}
	}
	if loc, err := b.Location(ctx); err == nil {
		n.logger.Infof("Navigated to search results: %s", loc)
	}

	pages, err := n.pageCount(ctx, s)
	if err != nil {
		return 0, &NavigationError{Step: "page count", Err: err}
	}
	n.logger.Infow("Search complete", "query", q.String(), "pages", pages)
	return pages, nil
}

func (n *Navigator) fillDate(ctx context.Context, s *Session, selector, value string) error {
	b := s.Browser

	if err := b.Evaluate(ctx, hidePickersScript, nil); err != nil {
		n.logger.Debugf("Hiding date pickers failed: %v", err)
	}
	if err := b.WaitVisible(ctx, selector, 0); err != nil {
		return err
	}
	if err := b.Clear(ctx, selector); err != nil {
		return err
	}
	if err := b.SendKeys(ctx, selector, strings.Repeat("\b", dateFieldBackspaces)); err != nil {
		return err
	}
	return b.SendKeys(ctx, selector, value)
}

func (n *Navigator) submit(ctx context.Context, s *Session) error {
	b := s.Browser

	present, err := b.Exists(ctx, n.site.SearchButton)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("search button %s not found", n.site.SearchButton)
	}

	if err := b.Evaluate(ctx, angularSearchScript, nil); err != nil {
		n.logger.Warnf("Angular search call failed, clicking the button instead: %v", err)
		return b.Click(ctx, n.site.SearchButton)
	}
	n.logger.Debug("Executed Angular Search() function")
	return nil
}

func (n *Navigator) pageCount(ctx context.Context, s *Session) (int, error) {
	b := s.Browser

	if n.site.NoResults != "" {
		none, err := b.Exists(ctx, n.site.NoResults)
		if err != nil {
			return 0, err
		}
		if none {
			n.logger.Info("Search returned no results")
			return 0, nil
		}
	}

	if err := b.WaitVisible(ctx, n.site.PageIndicator, 0); err != nil {
		return 0, fmt.Errorf("pagination indicator: %w", err)
	}
	text, err := b.Text(ctx, n.site.PageIndicator)
	if err != nil {
		return 0, fmt.Errorf("pagination indicator: %w", err)
	}
	return ParsePageCount(text)
}

var (
	pageOfRegex  = regexp.MustCompile(`(?i)page\s+\d[\d,]*\s+of\s+(\d[\d,]*)`)
	rangeOfRegex = regexp.MustCompile(`(?i)\d[\d,]*\s*(?:-|–|to)\s*\d[\d,]*\s+of\s+(\d[\d,]*)`)
	foundRegex   = regexp.MustCompile(`(?i)(\d[\d,]*)\s+(?:records?|results?|documents?)\b`)

	currentPageRegex  = regexp.MustCompile(`(?i)page\s+(\d[\d,]*)\s+of\b`)
	currentRangeRegex = regexp.MustCompile(`(?i)(\d[\d,]*)\s*(?:-|–|to)\s*\d[\d,]*\s+of\b`)
)

// ErrUnparseablePageCount is returned when the pagination text has no recognisable count.
var ErrUnparseablePageCount = errors.New("unrecognised pagination indicator")

// ParsePageCount reads the number of result pages from the pagination text.
// It understands "Page 1 of 12" and record ranges such as "1 - 100 of 1,234"
// or "1,234 records found", which are divided by the page size.
func ParsePageCount(text string) (int, error) {
	text = strings.TrimSpace(text)

	if m := pageOfRegex.FindStringSubmatch(text); m != nil {
		return atoiComma(m[1])
	}

	var total int
	var err error
	switch m1, m2 := rangeOfRegex.FindStringSubmatch(text), foundRegex.FindStringSubmatch(text); {
	case m1 != nil:
		total, err = atoiComma(m1[1])
	case m2 != nil:
		total, err = atoiComma(m2[1])
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnparseablePageCount, text)
	}
	if err != nil {
		return 0, err
	}
	return (total + config.MaxRecordsPerPage - 1) / config.MaxRecordsPerPage, nil
}

// ParseCurrentPage reads the page being shown from the pagination text,
// either "Page 3 of 12" or the record range "201 - 300 of 1,234".
func ParseCurrentPage(text string) (int, bool) {
	if m := currentPageRegex.FindStringSubmatch(text); m != nil {
		n, err := atoiComma(m[1])
		return n, err == nil && n > 0
	}
	if m := currentRangeRegex.FindStringSubmatch(text); m != nil {
		first, err := atoiComma(m[1])
		if err != nil || first < 1 {
			return 0, false
		}
		return (first-1)/config.MaxRecordsPerPage + 1, true
	}
	return 0, false
}

func atoiComma(s string) (int, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnparseablePageCount, err)
	}
	return n, nil
}
