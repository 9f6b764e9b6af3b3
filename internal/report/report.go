// Package report prints run and verification summaries to the console.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"

	"github.com/dbsmedya/sfrecorder/internal/scraper"
	"github.com/dbsmedya/sfrecorder/internal/sink"
	"github.com/dbsmedya/sfrecorder/internal/verifier"
)

// Status is the overall verdict of a run.
type Status string

const (
	StatusOK          Status = "OK"
	StatusPartial     Status = "PARTIAL"
	StatusFailed      Status = "FAILED"
	StatusInterrupted Status = "INTERRUPTED"
)

// RunStatus classifies a run summary.
func RunStatus(s *scraper.Summary) Status {
	switch {
	case s.Interrupted:
		return StatusInterrupted
	case s.State == scraper.StateAborted, s.Err != nil:
		return StatusFailed
	case s.PartialSuccess() || s.StoppedEarly:
		return StatusPartial
	default:
		return StatusOK
	}
}

// Printer writes aligned, optionally coloured summaries.
type Printer struct {
	w     io.Writer
	plain bool
	width int // label column width
}

// NewPrinter creates a Printer. plain disables colour codes.
func NewPrinter(w io.Writer, plain bool) *Printer {
	return &Printer{w: w, plain: plain, width: 20}
}

func (p *Printer) paint(c color.Color, s string) string {
	if p.plain {
		return s
	}
	return c.Sprint(s)
}

func (p *Printer) statusColor(st Status) color.Color {
	switch st {
	case StatusOK:
		return color.Green
	case StatusPartial, StatusInterrupted:
		return color.Yellow
	default:
		return color.Red
	}
}

func (p *Printer) line(label string, format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", runewidth.FillRight(label+":", p.width), fmt.Sprintf(format, args...))
}

// Summary prints the outcome of a scrape.
func (p *Printer) Summary(s *scraper.Summary) {
	st := RunStatus(s)

	fmt.Fprintf(p.w, "\n=== Scrape Summary ===\n")
	p.line("Run", "%s", s.RunID)
	p.line("Status", "%s", p.paint(p.statusColor(st), string(st)))
	p.line("Pages", "%d of %d succeeded (%d skipped)", s.PagesSucceeded, s.PagesTotal, len(s.Skipped))
	if len(s.Extracted) > 0 {
		p.line("Pages extracted", "%s", joinInts(s.Extracted))
	}
	p.line("Records extracted", "%d", s.RecordsExtracted)
	p.line("Duration", "%s", s.Duration.Round(time.Millisecond))
	if s.StoppedEarly {
		p.line("Stopped early", "%s", p.paint(color.Yellow, "too many consecutive page failures"))
	}
	if s.Err != nil {
		p.line("Error", "%s", p.paint(color.Red, s.Err.Error()))
	}

	if len(s.Targets) > 0 {
		fmt.Fprintf(p.w, "\nTargets:\n")
		nameWidth := 0
		for _, t := range s.Targets {
			if w := runewidth.StringWidth(string(t)); w > nameWidth {
				nameWidth = w
			}
		}
		for _, t := range s.Targets {
			name := runewidth.FillRight(string(t), nameWidth)
			rows := fmt.Sprintf("%6d rows", s.RowsPersisted[t])
			if skipped := s.RowsSkipped[t]; skipped > 0 {
				rows += fmt.Sprintf(" (%d without key)", skipped)
			}
			state := p.paint(color.Green, "ok")
			if failed := s.TargetFailures[t]; len(failed) > 0 {
				state = p.paint(color.Red, "failed pages "+joinInts(failed))
			}
			fmt.Fprintf(p.w, "  %s %s  %s\n", name, rows, state)
		}
	}

	if len(s.Skipped) > 0 {
		fmt.Fprintf(p.w, "\nSkipped pages:\n")
		for _, f := range s.Skipped {
			fmt.Fprintf(p.w, "  - page %d: %s\n", f.Page, f.Reason)
		}
	}
}

// Verification prints the outcome of verify.
func (p *Printer) Verification(runID string, stats *verifier.VerifyStats) {
	fmt.Fprintf(p.w, "\n=== Verification ===\n")
	p.line("Run", "%s", runID)
	p.line("Method", "%s", stats.Method)
	p.line("Page files", "%d", stats.PageFiles)
	p.line("Rows", "%d", stats.TotalRows)

	for _, r := range stats.Results {
		verdict := p.paint(color.Green, "PASSED")
		detail := fmt.Sprintf("%d rows", r.SourceCount)
		if !r.Match {
			verdict = p.paint(color.Red, "FAILED")
			detail = r.ErrorMessage
		}
		p.line(r.Check, "%s %s", verdict, detail)
	}
}

// Reload prints the outcome of replaying a run into the database.
func (p *Printer) Reload(runID string, results []sink.PersistResult) {
	var rows, failed int
	var failedPages []int
	for _, res := range results {
		for _, tr := range res.Targets {
			if tr.OK() {
				rows += tr.Rows
				continue
			}
			failed++
			failedPages = append(failedPages, res.Page)
		}
	}

	fmt.Fprintf(p.w, "\n=== Reload ===\n")
	p.line("Run", "%s", runID)
	p.line("Pages", "%d", len(results))
	p.line("Rows upserted", "%d", rows)
	if failed > 0 {
		p.line("Failed pages", "%s", p.paint(color.Red, joinInts(failedPages)))
		return
	}
	p.line("Status", "%s", p.paint(color.Green, string(StatusOK)))
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
