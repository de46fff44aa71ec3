package sites

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/maltedev/shelf-crawler/internal/crawler"
	"github.com/maltedev/shelf-crawler/internal/models"
)

const trademaxHome = "https://www.trademax.se"

var trademaxProductPath = regexp.MustCompile(`p\d+`)

// IsTrademaxProductPage reports whether rawURL points at a product page.
// Removed products redirect to a category, which this rejects.
func IsTrademaxProductPage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return trademaxProductPath.MatchString(u.Path)
}

func NewTrademax(crawler.LaunchOptions) (*crawler.Definition, error) {
	return &crawler.Definition{
		Domain:                "trademax.se",
		Strategy:              trademax{},
		Backend:               crawler.BackendDocument,
		CardSelector:          "li a[role='article']",
		CookieConsentSelector: "#onetrust-accept-btn-handler",
		ProductPageSelector:   "main div.bw h1",
		PageParam:             "page",
		CategoryPageSize:      36,
		Scroll:                crawler.NoScroll{},
		DetailRules: []crawler.Rule{
			crawler.URLRule("not a product page", IsTrademaxProductPage, crawler.KindNotFound),
		},
	}, nil
}

type trademax struct{}

func (trademax) ExtractCardInfo(ctx context.Context, categoryURL string, card crawler.Node) (*models.ListingCard, error) {
	name, err := crawler.Text(ctx, card, "h2")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, crawler.IllFormatted(categoryURL, "card without name")
	}
	href, _, err := card.Attr(ctx, "href")
	if err != nil {
		return nil, err
	}
	if href == "" {
		return nil, crawler.IllFormatted(categoryURL, "card without link")
	}
	return &models.ListingCard{URL: href, CategoryURL: categoryURL, Name: name}, nil
}

func (trademax) ExtractDetail(ctx context.Context, page crawler.Page) (*models.DetailRecord, error) {
	name, err := crawler.Text(ctx, page, "main div.bw h1")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, crawler.IllFormatted(page.URL(), "product name missing")
	}

	rec := &models.DetailRecord{
		URL:      page.URL(),
		Name:     name,
		Currency: "SEK",
		Metadata: map[string]any{},
	}

	if product, err := FindProduct(ctx, page); err == nil {
		ld := RecordFromProduct(product)
		rec.Metadata["schemaOrg"] = product
		rec.MPN = ld.MPN
		rec.GTIN = ld.GTIN
		rec.Description = ld.Description
		rec.Images = ld.Images
		rec.Price = ld.Price
		if ld.Currency != "" {
			rec.Currency = ld.Currency
		}
		rec.Reviews = ld.Reviews
	}

	if text, _ := crawler.Text(ctx, page, "main div.bw.hh div.jf.jg"); text != "" {
		if amount, _, ok := ParsePrice(text); ok {
			rec.Price = amount
		}
	}
	var original *float64
	if text, _ := crawler.Text(ctx, page, "[data-cy='original-price']"); text != "" {
		if amount, _, ok := ParsePrice(text); ok {
			original = &amount
		}
	}
	rec.SetPrices(rec.Price, original)

	rec.Brand, _ = crawler.Text(ctx, page, "main div.bw.hh > div > a")

	if _, err := page.Query(ctx, "button[data-test-id='add-to-cart-button']"); err == nil {
		rec.Availability = models.AvailabilityInStock
	} else {
		rec.Availability = models.AvailabilityOutOfStock
	}

	if images := attrs(ctx, page, "main div.bw img[sizes]", "src"); len(images) > 0 {
		rec.Images = images
	}

	rec.CategoryTree = models.NormalizeCategoryTree(categoryLinks(ctx, page, "main nav span a"), trademaxHome)
	rec.Specifications = specificationRows(ctx, page, "main table tr")

	for _, s := range rec.Specifications {
		if strings.EqualFold(s.Key, "Artikelnummer") {
			rec.SKU = s.Value
		}
	}

	return rec, nil
}

func attrs(ctx context.Context, n crawler.Node, selector, name string) []string {
	nodes, err := n.QueryAll(ctx, selector)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if v, ok, err := node.Attr(ctx, name); err == nil && ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

// categoryLinks reads breadcrumb anchors with links resolved against the
// page url.
func categoryLinks(ctx context.Context, page crawler.Page, selector string) []models.Category {
	nodes, err := page.QueryAll(ctx, selector)
	if err != nil {
		return nil
	}
	base, _ := url.Parse(page.URL())

	tree := make([]models.Category, 0, len(nodes))
	for _, node := range nodes {
		name, _ := node.Text(ctx)
		href, _, _ := node.Attr(ctx, "href")
		if base != nil && href != "" {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		tree = append(tree, models.Category{Name: name, URL: href})
	}
	return tree
}

// specificationRows reads two-cell table rows as key/value pairs.
func specificationRows(ctx context.Context, page crawler.Node, selector string) []models.Specification {
	rows, err := page.QueryAll(ctx, selector)
	if err != nil {
		return nil
	}
	var specs []models.Specification
	for _, row := range rows {
		cells, err := row.QueryAll(ctx, "td")
		if err != nil || len(cells) < 2 {
			continue
		}
		key, _ := cells[0].Text(ctx)
		value, _ := cells[1].Text(ctx)
		if key == "" {
			continue
		}
		specs = append(specs, models.Specification{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	return specs
}
