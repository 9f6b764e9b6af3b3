package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dbsmedya/sfrecorder/internal/browser"
	"github.com/dbsmedya/sfrecorder/internal/config"
	"github.com/dbsmedya/sfrecorder/internal/logger"
	"github.com/dbsmedya/sfrecorder/internal/types"
)

// renderPollInterval spaces the checks for a re-rendered result table.
var renderPollInterval = 100 * time.Millisecond

// defaultRenderTimeout bounds the wait for a page when no browser timeout is set.
const defaultRenderTimeout = 10 * time.Second

// Extractor reads one result page into records.
type Extractor struct {
	site   config.SiteConfig
	cfg    config.BrowserConfig
	schema *types.Schema
	logger *logger.Logger
}

// NewExtractor creates an Extractor using schema as the column mapping.
func NewExtractor(site config.SiteConfig, cfg config.BrowserConfig, schema *types.Schema, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Extractor{site: site, cfg: cfg, schema: schema, logger: log}
}

// Extract moves to result page number and reads its table.
func (e *Extractor) Extract(ctx context.Context, s *Session, number int) (types.Page, error) {
	if err := e.goTo(ctx, s, number); err != nil {
		return types.Page{}, &ExtractionError{Page: number, Err: err}
	}

	if err := s.Browser.WaitVisible(ctx, e.site.ResultsTable, 0); err != nil {
		return types.Page{}, &ExtractionError{Page: number, Err: fmt.Errorf("results table: %w", err)}
	}
	html, err := s.Browser.OuterHTML(ctx, e.site.ResultsTable)
	if err != nil {
		return types.Page{}, &ExtractionError{Page: number, Err: err}
	}

	page, err := ParseTable(html, e.schema, number)
	if err != nil {
		return types.Page{}, &ExtractionError{Page: number, Err: err}
	}

	if page.Empty() {
		e.logger.WithPage(number).Warn("Result table has no rows")
	} else {
		e.logger.WithPage(number).Debugf("Extracted %d records", page.Len())
	}
	return page, nil
}

// goTo shows result page number. Nothing is clicked when the pager already
// reports that page, which covers page 1 after the search and a retry of
// a page whose table was already rendered. After a click it waits until
// the table differs from the one shown before.
func (e *Extractor) goTo(ctx context.Context, s *Session, number int) error {
	if current, ok := e.currentPage(ctx, s); ok && current == number {
		return nil
	}

	link := fmt.Sprintf(e.site.PageLink, number)
	present, err := s.Browser.Exists(ctx, link)
	if err != nil {
		return err
	}
	if !present {
		if number == 1 {
			return nil
		}
		return fmt.Errorf("pagination link %s not found", link)
	}

	// A missing table reads as "" and any rendered table then counts as new.
	before, _ := s.Browser.OuterHTML(ctx, e.site.ResultsTable)
	if err := s.Browser.Click(ctx, link); err != nil {
		return err
	}
	return e.waitRendered(ctx, s, number, before)
}

// currentPage reads the active page from the pagination indicator.
func (e *Extractor) currentPage(ctx context.Context, s *Session) (int, bool) {
	if e.site.PageIndicator == "" {
		return 0, false
	}
	present, err := s.Browser.Exists(ctx, e.site.PageIndicator)
	if err != nil || !present {
		return 0, false
	}
	text, err := s.Browser.Text(ctx, e.site.PageIndicator)
	if err != nil {
		return 0, false
	}
	return ParseCurrentPage(text)
}

func (e *Extractor) waitRendered(ctx context.Context, s *Session, number int, before string) error {
	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		html, err := s.Browser.OuterHTML(ctx, e.site.ResultsTable)
		if err == nil && html != "" && html != before {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("page %d did not render within %s: %w", number, timeout, browser.ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(renderPollInterval):
		}
	}
}

// ParseTable maps an HTML result table onto records. Header labels are
// matched against the schema; every mapped header must be present. At most
// config.MaxRecordsPerPage rows are read. Short rows keep empty values for
// the cells they lack.
func ParseTable(html string, schema *types.Schema, number int) (types.Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return types.Page{}, fmt.Errorf("parse results table: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return types.Page{}, fmt.Errorf("no table in results markup")
	}

	headerRow := table.Find("thead tr").First()
	if headerRow.Length() == 0 {
		headerRow = table.Find("tr").First()
	}
	var headers []string
	headerRow.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
		headers = append(headers, types.CleanCell(cell.Text()))
	})

	index, missing := schema.ColumnIndex(headers)
	if len(missing) > 0 {
		return types.Page{}, fmt.Errorf("structural mismatch: columns %v not found in header %v", missing, headers)
	}

	// Pager footers and nested tables live outside the body rows.
	rows := table.ChildrenFiltered("tbody").ChildrenFiltered("tr")
	if rows.Length() == 0 {
		rows = table.ChildrenFiltered("tr")
	}

	page := types.Page{Number: number}
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if row.IsSelection(headerRow) {
			return true
		}
		cells := row.ChildrenFiltered("td")
		if cells.Length() == 0 {
			// Header repeats and spacer rows carry no data cells.
			return true
		}
		if page.Len() >= config.MaxRecordsPerPage {
			return false
		}

		rec := types.NewRecord(schema, number, page.Len()+1)
		for field, pos := range index {
			if pos < cells.Length() {
				rec.Fields[field] = types.CleanCell(cells.Eq(pos).Text())
			}
		}
		page.Records = append(page.Records, rec)
		return true
	})

	return page, nil
}
