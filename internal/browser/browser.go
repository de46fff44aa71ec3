package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/shelf-crawler/internal/crawler"
)

// Launcher owns one headless Chromium. Every session gets its own browser
// context so cookies and proxy are isolated per session.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless          bool
	PageTimeout       time.Duration
	NavigationTimeout time.Duration
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	TimezoneID        string
	Locale            string
	BlockResources    bool
	ExtraHeaders      map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          true,
		PageTimeout:       20 * time.Second,
		NavigationTimeout: 150 * time.Second,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		TimezoneID:        "Europe/Stockholm",
		Locale:            "sv-SE",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "sv-SE,sv;q=0.9,en;q=0.8",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Launcher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Launcher{
		pw:      pw,
		browser: browser,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

// NewSession opens a fresh browser context routed through proxyURL. An empty
// proxyURL connects directly.
func (l *Launcher) NewSession(id, proxyURL string) (*Session, error) {
	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(l.opts.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(l.opts.Locale),
		TimezoneId:        playwright.String(l.opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  l.opts.ViewportWidth,
			Height: l.opts.ViewportHeight,
		},
		ExtraHttpHeaders: l.opts.ExtraHeaders,
	}
	if proxyURL != "" {
		p, err := proxySettings(proxyURL)
		if err != nil {
			return nil, err
		}
		contextOpts.Proxy = p
	}

	bctx, err := l.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if l.opts.BlockResources {
		if err := bctx.Route("**/*", blockResources); err != nil {
			bctx.Close()
			return nil, fmt.Errorf("failed to install resource filter: %w", err)
		}
	}

	return &Session{
		id:       id,
		proxyURL: proxyURL,
		bctx:     bctx,
		opts:     l.opts,
		logger:   l.logger.With("session_id", id),
	}, nil
}

func (l *Launcher) Close() error {
	var errs []error

	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if l.pw != nil {
		if err := l.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// proxySettings splits credentials out of a proxy url, which Chromium does
// not accept inline.
func proxySettings(proxyURL string) (*playwright.Proxy, error) {
	raw := proxyURL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", proxyURL)
	}

	p := &playwright.Proxy{Server: u.Scheme + "://" + u.Host}
	if u.User != nil {
		p.Username = playwright.String(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			p.Password = playwright.String(pw)
		}
	}
	return p, nil
}

// Session is one isolated browser context.
type Session struct {
	id       string
	proxyURL string
	bctx     playwright.BrowserContext
	opts     *Options
	logger   *slog.Logger
	retired  atomic.Bool
	pages    atomic.Int64
}

func (s *Session) ID() string       { return s.id }
func (s *Session) ProxyURL() string { return s.proxyURL }
func (s *Session) Retire()          { s.retired.Store(true) }
func (s *Session) Retired() bool    { return s.retired.Load() }

// Pages is the number of navigations made through the session.
func (s *Session) Pages() int { return int(s.pages.Load()) }

func (s *Session) Navigate(ctx context.Context, target string) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	p.SetDefaultTimeout(float64(s.opts.PageTimeout.Milliseconds()))
	p.SetDefaultNavigationTimeout(float64(s.opts.NavigationTimeout.Milliseconds()))

	s.pages.Add(1)
	resp, err := p.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to navigate to %s: %w", target, err)
	}

	pg := &page{p: p}
	if resp != nil {
		pg.status = resp.Status()
		if headers, err := resp.AllHeaders(); err == nil {
			pg.headers = headers
		} else {
			pg.headers = resp.Headers()
		}
	}
	return pg, nil
}

func (s *Session) Close() error {
	if err := s.bctx.Close(); err != nil {
		return fmt.Errorf("failed to close browser context: %w", err)
	}
	return nil
}

// 1x1 transparent png served in place of every image.
var pixelPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

var blockedDomains = []string{
	"googletagmanager.com",
	"cdn.cookielaw.org",
	"gtm.hfnordic.com/gtm.js",
	"google-analytics.com",
	"google.com",
}

// blockDecision is what the resource filter does with one request.
type blockDecision int

const (
	allowRequest blockDecision = iota
	stubImage
	abortRequest
)

func decide(resourceType, requestURL string) blockDecision {
	if resourceType == "image" {
		return stubImage
	}
	for _, d := range blockedDomains {
		if strings.Contains(requestURL, d) {
			return abortRequest
		}
	}
	return allowRequest
}

func blockResources(route playwright.Route) {
	req := route.Request()
	switch decide(req.ResourceType(), req.URL()) {
	case stubImage:
		route.Fulfill(playwright.RouteFulfillOptions{
			Status:      playwright.Int(200),
			ContentType: playwright.String("image/png"),
			Body:        pixelPNG,
		})
	case abortRequest:
		route.Abort()
	default:
		route.Continue()
	}
}
