package crawler

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/shelf-crawler/internal/metrics"
	"github.com/maltedev/shelf-crawler/internal/models"
	"github.com/maltedev/shelf-crawler/internal/proxy"
)

// ResolutionContext is what handlers may act on. Handlers never change the
// work unit's state; they only decide whether the error propagates.
type ResolutionContext struct {
	JobID    string
	Retailer string
	Unit     *models.WorkUnit
	Session  Session
	Logger   *slog.Logger
}

type Handler interface {
	Handle(ctx context.Context, err *CrawlError, rc *ResolutionContext) (suppressed bool)
}

type HandlerFunc func(ctx context.Context, err *CrawlError, rc *ResolutionContext) bool

func (f HandlerFunc) Handle(ctx context.Context, err *CrawlError, rc *ResolutionContext) bool {
	return f(ctx, err, rc)
}

// Resolution runs handlers in order until one suppresses the error.
type Resolution struct {
	handlers []Handler
}

func NewResolution(handlers ...Handler) *Resolution {
	return &Resolution{handlers: handlers}
}

// Resolve reports whether the error was suppressed. An unsuppressed error
// propagates to the retry logic.
func (r *Resolution) Resolve(ctx context.Context, err *CrawlError, rc *ResolutionContext) bool {
	for _, h := range r.handlers {
		if h.Handle(ctx, err, rc) {
			return true
		}
	}
	return false
}

// AntiBotHandler retires the session and burns its proxy for the retailer
// when a captcha is hit. It always propagates.
type AntiBotHandler struct {
	Health  proxy.HealthStore
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (h *AntiBotHandler) Handle(ctx context.Context, err *CrawlError, rc *ResolutionContext) bool {
	if err.Kind != KindCaptcha {
		return false
	}

	logger := rc.Logger
	if rc.Session == nil {
		logger.Warn("captcha without session", "job_id", rc.JobID, "url", err.URL)
		return false
	}
	rc.Session.Retire()

	proxyURL := rc.Session.ProxyURL()
	if proxyURL == "" {
		logger.Warn("captcha on direct connection", "job_id", rc.JobID, "url", err.URL, "session_id", rc.Session.ID())
		return false
	}

	ip, perr := proxy.ParseProxyIP(proxyURL)
	if perr != nil {
		logger.Error("failed to parse proxy ip", "error", perr, "session_id", rc.Session.ID())
		return false
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	if herr := h.Health.MarkBurned(ctx, ip, rc.Retailer, now()); herr != nil {
		logger.Error("failed to mark proxy burned", "error", herr, "proxy", ip, "retailer", rc.Retailer)
		return false
	}
	h.Metrics.IncProxyBurn(rc.Retailer)

	logger.Warn("proxy burned",
		"job_id", rc.JobID,
		"url", err.URL,
		"proxy", ip,
		"retailer", rc.Retailer,
		"session_id", rc.Session.ID())

	return false
}

// DefaultHandler logs content faults at info and blocks at error. Nothing is
// suppressed.
type DefaultHandler struct{}

func (DefaultHandler) Handle(_ context.Context, err *CrawlError, rc *ResolutionContext) bool {
	attrs := []any{"job_id", rc.JobID, "url", err.URL, "kind", err.Kind, "error", err.Error()}

	switch err.Kind {
	case KindNotFound, KindIllFormatted:
		rc.Logger.Info("content fault", attrs...)
	case KindGotBlocked:
		if rc.Session != nil {
			rc.Session.Retire()
		}
		rc.Logger.Error("blocked", attrs...)
	case KindCaptcha:
		rc.Logger.Error("captcha encountered", attrs...)
	default:
		rc.Logger.Warn("unclassified fault", attrs...)
	}

	return false
}

// SuppressHandler swallows one error kind.
type SuppressHandler struct {
	Kind ErrorKind
}

func (h SuppressHandler) Handle(_ context.Context, err *CrawlError, rc *ResolutionContext) bool {
	if err.Kind != h.Kind {
		return false
	}
	rc.Logger.Debug("error suppressed", "job_id", rc.JobID, "url", err.URL, "kind", err.Kind)
	return true
}
