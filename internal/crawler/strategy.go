package crawler

import (
	"context"
	"log/slog"

	"github.com/maltedev/shelf-crawler/internal/models"
)

// Strategy is the per-retailer extraction logic.
type Strategy interface {
	ExtractCardInfo(ctx context.Context, categoryURL string, card Node) (*models.ListingCard, error)
	ExtractDetail(ctx context.Context, page Page) (*models.DetailRecord, error)
}

// Paginator is implemented by strategies that locate the next listing page
// themselves. ok is false on the last page.
type Paginator interface {
	NextPageURL(ctx context.Context, page Page, current *models.WorkUnit) (url string, ok bool, err error)
}

// Definition is everything the orchestrator needs to crawl one retailer.
type Definition struct {
	Domain   string
	Strategy Strategy
	Backend  Backend

	CardSelector          string
	NextPageSelector      string
	CookieConsentSelector string
	ProductPageSelector   string
	PageParam             string
	CategoryPageSize      int

	Scroll ScrollStrategy

	// Rules are consulted for every page, DetailRules after them for detail
	// pages only. Both run ahead of the generic rules.
	Rules       []Rule
	DetailRules []Rule
	Handlers    []Handler
}

type LaunchOptions struct {
	Domain string
	Logger *slog.Logger
}

type Factory func(opts LaunchOptions) (*Definition, error)

// SiteLookup resolves a target domain to its Definition.
type SiteLookup interface {
	Definition(domain string) (*Definition, error)
}
