package scraper

import (
	"time"

	"github.com/dbsmedya/sfrecorder/internal/browser"
)

// Session is a signed-on browser session. The cookies and tokens live in
// the browser; Session only carries what the later steps need to know.
type Session struct {
	Browser         browser.Browser
	Email           string
	LandingURL      string
	AuthenticatedAt time.Time
}
