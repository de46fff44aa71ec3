package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/shelf-crawler/internal/models"
	"github.com/maltedev/shelf-crawler/internal/proxy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNode struct {
	text     string
	attrs    map[string]string
	children map[string][]*fakeNode
}

func (n *fakeNode) Text(context.Context) (string, error) { return n.text, nil }

func (n *fakeNode) Attr(_ context.Context, name string) (string, bool, error) {
	v, ok := n.attrs[name]
	return v, ok, nil
}

func (n *fakeNode) Query(_ context.Context, selector string) (Node, error) {
	if c := n.children[selector]; len(c) > 0 {
		return c[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
}

func (n *fakeNode) QueryAll(_ context.Context, selector string) ([]Node, error) {
	out := make([]Node, 0, len(n.children[selector]))
	for _, c := range n.children[selector] {
		out = append(out, c)
	}
	return out, nil
}

func cardNode(href string) *fakeNode {
	return &fakeNode{attrs: map[string]string{"href": href}}
}

func listingPage(url string, hrefs ...string) *fakePage {
	cards := make([]*fakeNode, 0, len(hrefs))
	for _, h := range hrefs {
		cards = append(cards, cardNode(h))
	}
	return &fakePage{
		fakeNode: fakeNode{children: map[string][]*fakeNode{".card": cards}},
		url:      url,
		status:   200,
	}
}

func detailPage(url, name string, status int) *fakePage {
	children := map[string][]*fakeNode{}
	if name != "" {
		children["h1"] = []*fakeNode{{text: name}}
	}
	return &fakePage{fakeNode: fakeNode{children: children}, url: url, status: status}
}

type fakePage struct {
	fakeNode
	url        string
	status     int
	headers    map[string]string
	title      string
	evaluate   func(script string, args ...any) (any, error)
	screenshot []byte
	closed     bool
}

func (p *fakePage) URL() string                { return p.url }
func (p *fakePage) Status() int                { return p.status }
func (p *fakePage) Headers() map[string]string { return p.headers }

func (p *fakePage) Title(context.Context) (string, error) { return p.title, nil }

func (p *fakePage) Evaluate(_ context.Context, script string, args ...any) (any, error) {
	if p.evaluate == nil {
		return nil, ErrUnsupported
	}
	return p.evaluate(script, args...)
}

func (p *fakePage) WaitFor(ctx context.Context, selector string, _ time.Duration) error {
	_, err := p.Query(ctx, selector)
	return err
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	if p.screenshot == nil {
		return nil, ErrUnsupported
	}
	return p.screenshot, nil
}

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

// route returns the page for the attempt-th visit (1-based) of a url.
type route func(attempt int) (*fakePage, error)

type fakeSession struct {
	id       string
	proxyURL string
	provider *fakeProvider
	mu       sync.Mutex
	retired  bool
}

func (s *fakeSession) ID() string       { return s.id }
func (s *fakeSession) ProxyURL() string { return s.proxyURL }

func (s *fakeSession) Navigate(_ context.Context, url string) (Page, error) {
	return s.provider.serve(s, url)
}

func (s *fakeSession) Retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = true
}

func (s *fakeSession) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

func (s *fakeSession) Close() error { return nil }

type navigation struct {
	url   string
	proxy string
}

type fakeProvider struct {
	pool   *proxy.Pool
	mu     sync.Mutex
	routes map[string]route
	visits map[string]int
	log    []navigation
	nextID int
	acquireErr error
}

func newFakeProvider(pool *proxy.Pool) *fakeProvider {
	return &fakeProvider{
		pool:   pool,
		routes: make(map[string]route),
		visits: make(map[string]int),
	}
}

func (f *fakeProvider) on(url string, r route) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[url] = r
}

func (f *fakeProvider) always(p *fakePage) {
	f.on(p.url, func(int) (*fakePage, error) {
		clone := *p
		return &clone, nil
	})
}

func (f *fakeProvider) Acquire(ctx context.Context, retailer string, _ Backend) (Session, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	proxyURL, err := f.pool.Acquire(ctx, retailer)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return &fakeSession{id: fmt.Sprintf("session-%d", f.nextID), proxyURL: proxyURL, provider: f}, nil
}

func (f *fakeProvider) Release(Session) {}

func (f *fakeProvider) serve(s *fakeSession, url string) (Page, error) {
	f.mu.Lock()
	f.visits[url]++
	attempt := f.visits[url]
	f.log = append(f.log, navigation{url: url, proxy: s.proxyURL})
	r, ok := f.routes[url]
	f.mu.Unlock()

	if !ok {
		return nil, errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	return r(attempt)
}

func (f *fakeProvider) visitsOf(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visits[url]
}

func (f *fakeProvider) proxiesFor(url string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range f.log {
		if n.url == url {
			out = append(out, n.proxy)
		}
	}
	return out
}

// testStrategy reads cards from their href and details from the h1.
type testStrategy struct{}

func (testStrategy) ExtractCardInfo(ctx context.Context, categoryURL string, card Node) (*models.ListingCard, error) {
	href, _, err := card.Attr(ctx, "href")
	if err != nil {
		return nil, err
	}
	return &models.ListingCard{URL: href, CategoryURL: categoryURL}, nil
}

func (testStrategy) ExtractDetail(ctx context.Context, page Page) (*models.DetailRecord, error) {
	h1, err := page.Query(ctx, "h1")
	if err != nil {
		return nil, err
	}
	name, _ := h1.Text(ctx)
	return &models.DetailRecord{Name: name, Price: 100, Currency: "SEK"}, nil
}

type fakeSites map[string]*Definition

func (f fakeSites) Definition(domain string) (*Definition, error) {
	def, ok := f[domain]
	if !ok {
		return nil, fmt.Errorf("no site for %s", domain)
	}
	return def, nil
}

type recordingSink struct {
	mu      sync.Mutex
	records map[string][]any
}

func newRecordingSink() *recordingSink {
	return &recordingSink{records: make(map[string][]any)}
}

func (s *recordingSink) Append(_ context.Context, dataset string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[dataset] = append(s.records[dataset], record)
	return nil
}

func (s *recordingSink) count(dataset string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[dataset])
}

type recordingHealth struct {
	*proxy.MemoryHealthStore
	mu    sync.Mutex
	burns []string
}

func newRecordingHealth() *recordingHealth {
	return &recordingHealth{MemoryHealthStore: proxy.NewMemoryHealthStore()}
}

func (h *recordingHealth) MarkBurned(ctx context.Context, ip, retailer string, at time.Time) error {
	h.mu.Lock()
	h.burns = append(h.burns, ip+"|"+retailer)
	h.mu.Unlock()
	return h.MemoryHealthStore.MarkBurned(ctx, ip, retailer, at)
}

func (h *recordingHealth) burnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.burns)
}

type memoryBlobs struct {
	mu    sync.Mutex
	names []string
}

func (b *memoryBlobs) Upload(_ context.Context, _ []byte, name, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, name)
	return "mem://" + name, nil
}

type harness struct {
	orch     *Orchestrator
	provider *fakeProvider
	health   *recordingHealth
	sink     *recordingSink
	blobs    *memoryBlobs
	def      *Definition
}

func newHarness(proxies ...string) *harness {
	health := newRecordingHealth()
	pool := proxy.NewPool(proxies, health, 30*time.Minute, discardLogger())
	provider := newFakeProvider(pool)
	sink := newRecordingSink()
	blobs := &memoryBlobs{}
	def := &Definition{
		Strategy:     testStrategy{},
		Backend:      BackendDocument,
		CardSelector: ".card",
	}

	orch := New(Config{
		Sites:    fakeSites{"shop.se": def},
		Sessions: provider,
		Health:   health,
		Sink:     sink,
		Blobs:    blobs,
		Logger:   discardLogger(),
	})

	return &harness{orch: orch, provider: provider, health: health, sink: sink, blobs: blobs, def: def}
}

func detailUnits(jobID string, urls ...string) []*models.WorkUnit {
	units := make([]*models.WorkUnit, 0, len(urls))
	for i, u := range urls {
		units = append(units, models.NewDetailUnit(&models.ListingCard{URL: u, CategoryURL: "https://shop.se/c", PopularityIndex: i + 1}, jobID))
	}
	return units
}
