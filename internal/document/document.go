package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/maltedev/shelf-crawler/internal/crawler"
)

type Options struct {
	UserAgent string
	Timeout   time.Duration
	Headers   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Timeout:   30 * time.Second,
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "sv-SE,sv;q=0.9,en;q=0.8",
		},
	}
}

// Session fetches pages over plain HTTP and parses them without running
// scripts. Cookies persist for the life of the session.
type Session struct {
	id       string
	proxyURL string
	client   *resty.Client
	logger   *slog.Logger
	retired  atomic.Bool
	pages    atomic.Int64
}

func NewSession(id, proxyURL string, opts *Options, logger *slog.Logger) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client.SetCookieJar(jar)
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", opts.UserAgent)
	client.SetHeaders(opts.Headers)
	client.SetTimeout(opts.Timeout)

	return &Session{
		id:       id,
		proxyURL: proxyURL,
		client:   client,
		logger:   logger.With("component", "document", "session_id", id),
	}, nil
}

func (s *Session) ID() string       { return s.id }
func (s *Session) ProxyURL() string { return s.proxyURL }
func (s *Session) Retire()          { s.retired.Store(true) }
func (s *Session) Retired() bool    { return s.retired.Load() }
func (s *Session) Pages() int       { return int(s.pages.Load()) }
func (s *Session) Close() error     { return nil }

func (s *Session) Navigate(ctx context.Context, target string) (crawler.Page, error) {
	s.pages.Add(1)

	res, err := s.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}

	finalURL := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalURL = res.RawResponse.Request.URL.String()
	}

	headers := make(map[string]string, len(res.Header()))
	for k, v := range res.Header() {
		headers[k] = strings.Join(v, ", ")
	}

	page, err := Parse(bytes.NewReader(res.Body()), finalURL, res.StatusCode())
	if err != nil {
		return nil, err
	}
	page.headers = headers
	return page, nil
}

// Parse builds a page from an HTML body fetched elsewhere.
func Parse(body io.Reader, pageURL string, status int) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}
	return &Page{
		node:    node{sel: doc.Selection},
		doc:     doc,
		url:     pageURL,
		status:  status,
		headers: map[string]string{},
	}, nil
}

// Page is a parsed static document.
type Page struct {
	node
	doc     *goquery.Document
	url     string
	status  int
	headers map[string]string
}

func (p *Page) URL() string                { return p.url }
func (p *Page) Status() int                { return p.status }
func (p *Page) Headers() map[string]string { return p.headers }
func (p *Page) Close() error               { return nil }

func (p *Page) Title(context.Context) (string, error) {
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

func (p *Page) Text(context.Context) (string, error) {
	return strings.TrimSpace(p.doc.Find("body").Text()), nil
}

func (p *Page) Evaluate(context.Context, string, ...any) (any, error) {
	return nil, crawler.ErrUnsupported
}

// WaitFor checks the selector once; a static document never changes.
func (p *Page) WaitFor(_ context.Context, selector string, _ time.Duration) error {
	if p.doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrElementNotFound, selector)
	}
	return nil
}

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	return nil, crawler.ErrUnsupported
}

type node struct {
	sel *goquery.Selection
}

func (n node) Text(context.Context) (string, error) {
	return strings.TrimSpace(n.sel.Text()), nil
}

func (n node) Attr(_ context.Context, name string) (string, bool, error) {
	v, ok := n.sel.Attr(name)
	return v, ok, nil
}

func (n node) Query(_ context.Context, selector string) (crawler.Node, error) {
	found := n.sel.Find(selector).First()
	if found.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", crawler.ErrElementNotFound, selector)
	}
	return node{sel: found}, nil
}

func (n node) QueryAll(_ context.Context, selector string) ([]crawler.Node, error) {
	found := n.sel.Find(selector)
	nodes := make([]crawler.Node, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, node{sel: s})
	})
	return nodes, nil
}
