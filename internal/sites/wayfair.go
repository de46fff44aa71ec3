package sites

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/maltedev/shelf-crawler/internal/crawler"
	"github.com/maltedev/shelf-crawler/internal/models"
)

const (
	wayfairHome      = "https://www.wayfair.de"
	wayfairInfoBlock = "div[data-enzyme-id='PdpLayout-infoBlock']"
)

var wayfairPartNumber = regexp.MustCompile(`"partNumber":"(.+?)"`)

// PerimeterX serves its block page with this title and a 200 or 403.
const perimeterXTitle = "Access to this page has been denied"

func urlContains(name, fragment string, kind crawler.ErrorKind) crawler.Rule {
	return crawler.Rule{
		Name: name,
		Match: func(_ error, state crawler.PageState) (crawler.ErrorKind, bool) {
			return kind, strings.Contains(state.URL, fragment)
		},
	}
}

func NewWayfair(crawler.LaunchOptions) (*crawler.Definition, error) {
	return &crawler.Definition{
		Domain:              "wayfair.de",
		Strategy:            wayfair{},
		Backend:             crawler.BackendBrowser,
		CardSelector:        "a[href*='/pdp/']",
		ProductPageSelector: wayfairInfoBlock + " header h1",
		Scroll: crawler.ConvergentScroll{
			StepWait: time.Second,
			Stop:     crawler.NudgeUp(400, 500*time.Millisecond, false),
		},
		Rules: []crawler.Rule{
			urlContains("blocked redirect", "wayfair.de/blocked.php", crawler.KindGotBlocked),
			urlContains("captcha redirect", "wayfair.de/v/captcha", crawler.KindCaptcha),
			crawler.TitleRule("perimeterx block page", perimeterXTitle, crawler.KindCaptcha),
		},
		DetailRules: []crawler.Rule{
			crawler.URLRule("redirected to homepage", func(u string) bool {
				parsed, err := url.Parse(u)
				return err == nil && strings.Trim(parsed.Path, "/") != ""
			}, crawler.KindNotFound),
			crawler.URLRule("redirected off product page", func(u string) bool {
				return strings.Contains(u, "/pdp/")
			}, crawler.KindNotFound),
		},
	}, nil
}

type wayfair struct{}

func (wayfair) ExtractCardInfo(ctx context.Context, categoryURL string, card crawler.Node) (*models.ListingCard, error) {
	href, _, err := card.Attr(ctx, "href")
	if err != nil {
		return nil, err
	}
	if href == "" {
		return nil, crawler.IllFormatted(categoryURL, "card without link")
	}
	name, _ := card.Text(ctx)
	return &models.ListingCard{URL: href, CategoryURL: categoryURL, Name: name}, nil
}

func (wayfair) ExtractDetail(ctx context.Context, page crawler.Page) (*models.DetailRecord, error) {
	for _, sel := range []string{"iframe[title='reCAPTCHA']", "div.px-captcha-error-container"} {
		if _, err := page.Query(ctx, sel); err == nil {
			return nil, crawler.NewCrawlError(crawler.KindCaptcha, page.URL(), page.Status(), "captcha widget on page", nil)
		}
	}

	name, err := crawler.Text(ctx, page, wayfairInfoBlock+" header h1")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, crawler.IllFormatted(page.URL(), "product name missing")
	}

	priceText, err := crawler.Text(ctx, page, wayfairInfoBlock+" .SFPrice span:first-child")
	if err != nil {
		return nil, err
	}
	price, currency, ok := ParsePrice(priceText)
	if !ok {
		return nil, crawler.IllFormatted(page.URL(), "price missing")
	}

	rec := &models.DetailRecord{
		URL:      page.URL(),
		Name:     name,
		Currency: currency,
		Metadata: map[string]any{},
	}
	if rec.Currency == "" {
		rec.Currency = "EUR"
	}

	var original *float64
	if text, _ := crawler.Text(ctx, page, wayfairInfoBlock+" .SFPrice s"); text != "" {
		if amount, _, ok := ParsePrice(text); ok {
			original = &amount
		}
	}
	rec.SetPrices(price, original)

	rec.Brand, _ = crawler.Text(ctx, page, wayfairInfoBlock+" a[data-enzyme-id='pdp-title-block-manufacturer-name']")
	rec.Description, _ = crawler.Text(ctx, page, "div.ProductOverviewItem .ProductOverviewInformation-content")

	if _, err := page.Query(ctx, ".OutOfStockOverlay"); err == nil {
		rec.Availability = models.AvailabilityOutOfStock
	} else {
		rec.Availability = models.AvailabilityInStock
	}

	if sku, _ := crawler.Text(ctx, page, ".PdpLayoutResponsive-breadcrumbWrap nav li:last-child"); sku != "" {
		rec.SKU = strings.TrimSpace(strings.TrimPrefix(sku, "SKU:"))
	}
	rec.MPN = wayfairMPN(ctx, page)

	rec.CategoryTree = models.NormalizeCategoryTree(categoryLinks(ctx, page, ".PdpLayoutResponsive-breadcrumbWrap nav li a"), wayfairHome)
	rec.Images = attrs(ctx, page, "li.ProductDetailImageCarousel-carouselItem img", "src")

	ratingText, _ := crawler.Text(ctx, page, wayfairInfoBlock+" .ProductRatingNumberWithCount-rating")
	countText, _ := crawler.Text(ctx, page, wayfairInfoBlock+" .ProductRatingNumberWithCount-count")
	if ratingText != "" || countText != "" {
		avg, _, _ := ParsePrice(ratingText)
		count, _, _ := ParsePrice(countText)
		rec.Reviews = &models.Reviews{AverageRating: avg, ReviewCount: int(count)}
	}

	return rec, nil
}

// wayfairMPN reads the manufacturer part number from the inline webpack
// bootstrap data.
func wayfairMPN(ctx context.Context, page crawler.Page) string {
	scripts, err := page.QueryAll(ctx, "script:not([src])")
	if err != nil {
		return ""
	}
	for _, s := range scripts {
		text, err := s.Text(ctx)
		if err != nil || !strings.HasPrefix(strings.TrimSpace(text), `window["WEBPACK_ENTRY_DATA"]`) {
			continue
		}
		if m := wayfairPartNumber.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
