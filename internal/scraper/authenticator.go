package scraper

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dbsmedya/sfrecorder/internal/browser"
	"github.com/dbsmedya/sfrecorder/internal/config"
	"github.com/dbsmedya/sfrecorder/internal/logger"
)

const captchaPollInterval = time.Second

// Authenticator signs on to the recorder site.
type Authenticator struct {
	browser browser.Browser
	site    config.SiteConfig
	cfg     config.BrowserConfig
	logger  *logger.Logger
	sleep   sleepFunc
	now     func() time.Time
}

// NewAuthenticator creates an Authenticator driving b.
func NewAuthenticator(b browser.Browser, site config.SiteConfig, cfg config.BrowserConfig, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Authenticator{
		browser: b,
		site:    site,
		cfg:     cfg,
		logger:  log,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Authenticate opens the site, accepts the disclaimer when shown, signs on
// with email and password and confirms the session by the location change
// that follows the login.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, &AuthError{Step: "credentials", Err: errors.New("email and password are required")}
	}

	a.logger.Infof("Navigating to %s", a.site.BaseURL)
	if err := a.browser.Navigate(ctx, a.site.BaseURL); err != nil {
		return nil, &AuthError{Step: "open site", Err: err}
	}

	loc, err := a.browser.Location(ctx)
	if err != nil {
		return nil, &AuthError{Step: "open site", Err: err}
	}
	a.logger.Debugf("Currently at: %s", loc)

	if strings.Contains(strings.ToLower(loc), "disclaimer") {
		a.logger.Info("Detected disclaimer page")
		if err := a.clickWhenVisible(ctx, a.site.DisclaimerButton); err != nil {
			return nil, &AuthError{Step: "disclaimer", Err: err}
		}
	}

	if err := a.clickWhenVisible(ctx, a.site.SignOnLink); err != nil {
		return nil, &AuthError{Step: "sign on link", Err: err}
	}

	if err := a.fill(ctx, a.site.EmailInput, email); err != nil {
		return nil, &AuthError{Step: "email", Err: err}
	}
	a.logger.Infof("Entered email: %s", email)

	if err := a.fill(ctx, a.site.PasswordInput, password); err != nil {
		return nil, &AuthError{Step: "password", Err: err}
	}
	a.logger.Info("Entered password")

	if err := a.waitForCaptcha(ctx); err != nil {
		return nil, &AuthError{Step: "captcha", Err: err}
	}

	from, err := a.browser.Location(ctx)
	if err != nil {
		return nil, &AuthError{Step: "login", Err: err}
	}

	a.logger.Info("Clicking the login button")
	if err := a.browser.Click(ctx, a.site.LoginButton); err != nil {
		return nil, &AuthError{Step: "login", Err: err}
	}

	landing, err := a.browser.WaitURLChange(ctx, from, a.cfg.Timeout)
	if err != nil {
		return nil, &AuthError{Step: "confirm login", Err: err}
	}

	a.logger.Infow("Login successful", "location", landing)
	return &Session{
		Browser:         a.browser,
		Email:           email,
		LandingURL:      landing,
		AuthenticatedAt: a.now(),
	}, nil
}

func (a *Authenticator) clickWhenVisible(ctx context.Context, selector string) error {
	if err := a.browser.WaitVisible(ctx, selector, 0); err != nil {
		return err
	}
	return a.browser.Click(ctx, selector)
}

func (a *Authenticator) fill(ctx context.Context, selector, value string) error {
	if err := a.browser.WaitVisible(ctx, selector, 0); err != nil {
		return err
	}
	if err := a.browser.Clear(ctx, selector); err != nil {
		return err
	}
	return a.browser.SendKeys(ctx, selector, value)
}

// waitForCaptcha blocks while an operator solves the CAPTCHA in the browser
// window. The site keeps the login button disabled until the answer is
// accepted. When the wait runs out the login is attempted anyway and the
// location check decides.
func (a *Authenticator) waitForCaptcha(ctx context.Context) error {
	present, err := a.browser.Exists(ctx, a.site.CaptchaInput)
	if err != nil || !present {
		return err
	}

	enabled, err := a.browser.Enabled(ctx, a.site.LoginButton)
	if err != nil {
		return err
	}
	if enabled {
		return nil
	}

	if a.cfg.Headless {
		a.logger.Warn("CAPTCHA present in headless mode; it cannot be solved without a visible browser")
	}
	a.logger.Warnf("Solve the CAPTCHA in the browser window (waiting up to %s)", a.cfg.CaptchaTimeout)

	deadline := a.now().Add(a.cfg.CaptchaTimeout)
	for a.now().Before(deadline) {
		if err := a.sleep(ctx, captchaPollInterval); err != nil {
			return err
		}
		enabled, err := a.browser.Enabled(ctx, a.site.LoginButton)
		if err != nil {
			return err
		}
		if enabled {
			a.logger.Info("CAPTCHA accepted")
			return nil
		}
	}

	a.logger.Warn("Login button remained disabled, attempting to click anyway")
	return nil
}
