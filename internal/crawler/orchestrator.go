package crawler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/shelf-crawler/internal/metrics"
	"github.com/maltedev/shelf-crawler/internal/models"
	"github.com/maltedev/shelf-crawler/internal/proxy"
	"github.com/maltedev/shelf-crawler/internal/queue"
)

// Sink is the append-only output store. Implementations must be safe for
// concurrent writers.
type Sink interface {
	Append(ctx context.Context, dataset string, record any) error
}

type BlobStore interface {
	Upload(ctx context.Context, data []byte, name, contentType string) (string, error)
}

// Throttle paces navigations and backs off on anti-bot errors.
type Throttle interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordError()
}

// Hook runs before every navigation with the session that will be used.
type Hook func(ctx context.Context, session Session, unit *models.WorkUnit) error

type Options struct {
	PreNavigationHooks []Hook
	MaxRetries         int
	Concurrency        int
	TakeScreenshot     bool
	MaxListingPages    int
	WaitTimeout        time.Duration

	// Retailer selects the site definition instead of the url's domain.
	Retailer string
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = 3
	}
	if o.Concurrency < 1 {
		o.Concurrency = 4
	}
	if o.MaxListingPages < 1 {
		o.MaxListingPages = 200
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 20 * time.Second
	}
	return o
}

type Config struct {
	Sites    SiteLookup
	Sessions SessionProvider
	Health   proxy.HealthStore
	Sink     Sink
	Blobs    BlobStore
	Throttle Throttle
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// NewAdmitter builds the visited key set of a job. Defaults to an
	// in-process set.
	NewAdmitter func(jobID string) queue.Admitter
}

type Orchestrator struct {
	sites       SiteLookup
	sessions    SessionProvider
	health      proxy.HealthStore
	sink        Sink
	blobs       BlobStore
	throttle    Throttle
	metrics     *metrics.Metrics
	logger      *slog.Logger
	newAdmitter func(jobID string) queue.Admitter
	now         func() time.Time

	mu      sync.Mutex
	visited map[string]queue.Admitter
	scraped map[string]*queue.VisitedSet
	cache   map[string]*site
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	health := cfg.Health
	if health == nil {
		health = proxy.NewMemoryHealthStore()
	}
	newAdmitter := cfg.NewAdmitter
	if newAdmitter == nil {
		newAdmitter = func(string) queue.Admitter { return queue.NewVisitedSet() }
	}

	return &Orchestrator{
		sites:       cfg.Sites,
		sessions:    cfg.Sessions,
		health:      health,
		sink:        cfg.Sink,
		blobs:       cfg.Blobs,
		throttle:    cfg.Throttle,
		metrics:     cfg.Metrics,
		logger:      logger.With("component", "orchestrator"),
		newAdmitter: newAdmitter,
		now:         time.Now,
		visited:     make(map[string]queue.Admitter),
		scraped:     make(map[string]*queue.VisitedSet),
		cache:       make(map[string]*site),
	}
}

// FinishJob discards the job's visited and scraped key sets.
func (o *Orchestrator) FinishJob(ctx context.Context, jobID string) error {
	o.mu.Lock()
	admitter, ok := o.visited[jobID]
	delete(o.visited, jobID)
	delete(o.scraped, jobID)
	o.mu.Unlock()

	if !ok {
		return nil
	}
	return admitter.Reset(ctx)
}

func (o *Orchestrator) admitterFor(jobID string) queue.Admitter {
	o.mu.Lock()
	defer o.mu.Unlock()

	admitter, ok := o.visited[jobID]
	if !ok {
		admitter = o.newAdmitter(jobID)
		o.visited[jobID] = admitter
	}
	return admitter
}

// scrapedFor returns the detail URLs of jobID already handed to a worker.
// It is kept apart from the explore set, which has admitted the same URLs.
func (o *Orchestrator) scrapedFor(jobID string) *queue.VisitedSet {
	o.mu.Lock()
	defer o.mu.Unlock()

	set, ok := o.scraped[jobID]
	if !ok {
		set = queue.NewVisitedSet()
		o.scraped[jobID] = set
	}
	return set
}

// site is a Definition with its chains built once.
type site struct {
	def        *Definition
	retailer   string
	listing    *Classifier
	detail     *Classifier
	resolution *Resolution
}

func (o *Orchestrator) siteFor(rawURL, retailer string) (*site, error) {
	domain := strings.TrimPrefix(strings.ToLower(retailer), "www.")
	if domain == "" {
		var err error
		if domain, err = DomainOf(rawURL); err != nil {
			return nil, err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.cache[domain]; ok {
		return s, nil
	}

	def, err := o.sites.Definition(domain)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve site for %s: %w", domain, err)
	}
	if def.Scroll == nil {
		def.Scroll = NoScroll{}
	}
	if def.Domain == "" {
		def.Domain = domain
	}

	handlers := make([]Handler, 0, len(def.Handlers)+2)
	handlers = append(handlers, def.Handlers...)
	handlers = append(handlers, &AntiBotHandler{Health: o.health, Metrics: o.metrics}, DefaultHandler{})

	detailRules := make([]Rule, 0, len(def.Rules)+len(def.DetailRules))
	detailRules = append(detailRules, def.Rules...)
	detailRules = append(detailRules, def.DetailRules...)

	s := &site{
		def:        def,
		retailer:   proxy.RetailerFromDomain(domain),
		listing:    NewClassifier(def.Rules...),
		detail:     NewClassifier(detailRules...),
		resolution: NewResolution(handlers...),
	}
	o.cache[domain] = s
	return s, nil
}

// DomainOf returns the lowercased host of rawURL without a www prefix.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.TrimPrefix(host, "www."), nil
}

type visitResult struct {
	err        *CrawlError
	suppressed bool
}

// visit runs one attempt: acquire a session, run hooks, navigate, classify
// the loaded page and hand it to fn. Faults are classified and resolved
// before returning.
func (o *Orchestrator) visit(ctx context.Context, s *site, cls *Classifier, unit *models.WorkUnit, opts Options, lastAttempt bool,
	fn func(ctx context.Context, page Page, state PageState) error) visitResult {

	session, err := o.sessions.Acquire(ctx, s.retailer, s.def.Backend)
	if err != nil {
		return o.resolve(ctx, s, unit, nil, nil, cls.Classify(fmt.Errorf("failed to acquire session: %w", err), PageState{URL: unit.URL}), opts, lastAttempt)
	}
	defer o.sessions.Release(session)

	for _, hook := range opts.PreNavigationHooks {
		if err := hook(ctx, session, unit); err != nil {
			return o.resolve(ctx, s, unit, session, nil, cls.Classify(fmt.Errorf("pre-navigation hook failed: %w", err), PageState{URL: unit.URL}), opts, lastAttempt)
		}
	}

	if o.throttle != nil {
		if err := o.throttle.Wait(ctx); err != nil {
			return o.resolve(ctx, s, unit, session, nil, cls.Classify(err, PageState{URL: unit.URL}), opts, lastAttempt)
		}
	}

	start := time.Now()
	page, err := session.Navigate(ctx, unit.URL)
	o.metrics.ObserveNavigation(string(s.def.Backend), time.Since(start))
	if err != nil {
		return o.resolve(ctx, s, unit, session, nil, cls.Classify(err, PageState{URL: unit.URL}), opts, lastAttempt)
	}
	defer page.Close()

	state := PageState{URL: page.URL(), Status: page.Status(), Headers: page.Headers()}
	if title, err := page.Title(ctx); err == nil {
		state.Title = title
	}

	o.logger.Info("request finished",
		"job_id", unit.UserData.JobID,
		"request_url", unit.URL,
		"url", state.URL,
		"status", state.Status,
		"proxy", proxyHost(session.ProxyURL()),
		"session_id", session.ID())

	if ce := cls.Classify(nil, state); ce != nil {
		return o.resolve(ctx, s, unit, session, page, ce, opts, lastAttempt)
	}

	if err := fn(ctx, page, state); err != nil {
		return o.resolve(ctx, s, unit, session, page, cls.Classify(err, state), opts, lastAttempt)
	}

	if o.throttle != nil {
		o.throttle.RecordSuccess()
	}
	return visitResult{}
}

func (o *Orchestrator) resolve(ctx context.Context, s *site, unit *models.WorkUnit, session Session, page Page, ce *CrawlError, opts Options, lastAttempt bool) visitResult {
	if ce.URL == "" {
		ce.URL = unit.URL
	}
	o.metrics.IncError(s.retailer, string(ce.Kind))
	if ce.Kind.AntiBot() && o.throttle != nil {
		o.throttle.RecordError()
	}

	if opts.TakeScreenshot && page != nil && (lastAttempt || !ce.Kind.Retryable()) {
		o.captureScreenshot(ctx, unit, page)
	}

	suppressed := s.resolution.Resolve(ctx, ce, &ResolutionContext{
		JobID:    unit.UserData.JobID,
		Retailer: s.retailer,
		Unit:     unit,
		Session:  session,
		Logger:   o.logger,
	})

	return visitResult{err: ce, suppressed: suppressed}
}

func (o *Orchestrator) captureScreenshot(ctx context.Context, unit *models.WorkUnit, page Page) {
	if o.blobs == nil {
		return
	}

	data, err := page.Screenshot(ctx)
	if errors.Is(err, ErrUnsupported) {
		return
	}
	if err != nil {
		o.logger.Warn("failed to take screenshot", "url", unit.URL, "error", err)
		return
	}

	sum := sha1.Sum([]byte(unit.URL))
	name := fmt.Sprintf("screenshots/%s/%s-%d.png", unit.UserData.JobID, hex.EncodeToString(sum[:8]), unit.RetryCount+1)
	location, err := o.blobs.Upload(ctx, data, name, "image/png")
	if err != nil {
		o.logger.Warn("failed to upload screenshot", "url", unit.URL, "error", err)
		return
	}
	o.logger.Info("screenshot saved", "job_id", unit.UserData.JobID, "url", unit.URL, "location", location)
}

// retry advances a failed unit and reports whether it should be attempted
// again. The attempt bound counts every attempt, so a unit is tried at most
// maxRetries times.
func retry(unit *models.WorkUnit, ce *CrawlError, maxRetries int) bool {
	unit.RetryCount++
	if ce.Kind.Retryable() && unit.RetryCount < maxRetries {
		_ = unit.Transition(models.StateRetryScheduled)
		_ = unit.Transition(models.StatePending)
		return true
	}
	_ = unit.Transition(models.StateFailedTerminal)
	return false
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base url %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

func proxyHost(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}
	host, err := proxy.ParseProxyIP(proxyURL)
	if err != nil {
		return ""
	}
	return host
}
