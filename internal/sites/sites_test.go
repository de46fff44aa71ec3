package sites

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/shelf-crawler/internal/crawler"
	"github.com/maltedev/shelf-crawler/internal/document"
	"github.com/maltedev/shelf-crawler/internal/models"
)

func parse(t *testing.T, url, html string) *document.Page {
	t.Helper()
	page, err := document.Parse(strings.NewReader(html), url, 200)
	require.NoError(t, err)
	return page
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const trademaxListing = `<html><body><ul>
<li><a role="article" href="/soffor/3-sits-soffa-oslo-p123"><h2>Soffa Oslo</h2></a></li>
<li><a role="article" href="/soffor/hornsoffa-bergen-p456"><h2>Hörnsoffa Bergen</h2></a></li>
<li><a role="article" href="/soffor/utan-namn-p789"></a></li>
</ul></body></html>`

const trademaxProduct = `<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@graph":[
  {"@type":"BreadcrumbList"},
  {"@type":"Product","name":"Soffa Oslo","mpn":"OSLO-3","gtin13":"7350000000011",
   "description":"Tresits soffa i sammet.",
   "image":["https://cdn.trademax.se/oslo-1.jpg"],
   "offers":{"@type":"Offer","price":"4995","priceCurrency":"SEK","availability":"https://schema.org/InStock"},
   "aggregateRating":{"ratingValue":"4.5","reviewCount":"12"}}
]}</script>
</head><body><main>
<nav><span><a href="/">Hem</a></span><span><a href="/soffor/">Soffor</a></span><span><a href="/soffor/3-sits">3-sits soffor</a></span></nav>
<div class="bw hh">
  <h1>Soffa Oslo</h1>
  <div><a href="/varumarken/venture">Venture Home</a></div>
  <div class="jf jg">4 995:-</div>
  <span data-cy="original-price">6 495:-</span>
  <img sizes="100vw" src="https://cdn.trademax.se/oslo-main.jpg">
  <img sizes="50vw" src="https://cdn.trademax.se/oslo-side.jpg">
  <button data-test-id="add-to-cart-button">Lägg i varukorg</button>
</div>
<table>
  <tr><td>Artikelnummer</td><td>123456</td></tr>
  <tr><td>Färg</td><td>Grön</td></tr>
  <tr><td>ensam</td></tr>
</table>
</main></body></html>`

func TestTrademax_ExtractCardInfo(t *testing.T) {
	ctx := context.Background()
	def, err := NewTrademax(crawler.LaunchOptions{})
	require.NoError(t, err)

	page := parse(t, "https://www.trademax.se/soffor", trademaxListing)
	cards, err := page.QueryAll(ctx, def.CardSelector)
	require.NoError(t, err)
	require.Len(t, cards, 3)

	card, err := def.Strategy.ExtractCardInfo(ctx, page.URL(), cards[0])
	require.NoError(t, err)
	assert.Equal(t, "Soffa Oslo", card.Name)
	assert.Equal(t, "/soffor/3-sits-soffa-oslo-p123", card.URL)
	assert.Equal(t, "https://www.trademax.se/soffor", card.CategoryURL)

	_, err = def.Strategy.ExtractCardInfo(ctx, page.URL(), cards[2])
	assert.ErrorIs(t, err, crawler.ErrIllFormatted)
}

func TestTrademax_ExtractDetail(t *testing.T) {
	ctx := context.Background()
	def, err := NewTrademax(crawler.LaunchOptions{})
	require.NoError(t, err)

	page := parse(t, "https://www.trademax.se/soffor/3-sits-soffa-oslo-p123", trademaxProduct)
	rec, err := def.Strategy.ExtractDetail(ctx, page)
	require.NoError(t, err)

	assert.Equal(t, "Soffa Oslo", rec.Name)
	assert.Equal(t, "Venture Home", rec.Brand)
	assert.Equal(t, 4995.0, rec.Price)
	require.NotNil(t, rec.OriginalPrice)
	assert.Equal(t, 6495.0, *rec.OriginalPrice)
	assert.True(t, rec.IsDiscounted)
	assert.Equal(t, "SEK", rec.Currency)
	assert.Equal(t, "OSLO-3", rec.MPN)
	assert.Equal(t, "7350000000011", rec.GTIN)
	assert.Equal(t, "123456", rec.SKU)
	assert.Equal(t, models.AvailabilityInStock, rec.Availability)
	assert.Equal(t, []string{"https://cdn.trademax.se/oslo-main.jpg", "https://cdn.trademax.se/oslo-side.jpg"}, rec.Images)
	assert.Equal(t, []models.Category{
		{Name: "Soffor", URL: "https://www.trademax.se/soffor"},
		{Name: "3-sits soffor", URL: "https://www.trademax.se/soffor/3-sits"},
	}, rec.CategoryTree)
	assert.Len(t, rec.Specifications, 2)
	require.NotNil(t, rec.Reviews)
	assert.Equal(t, 4.5, rec.Reviews.AverageRating)
	assert.Equal(t, 12, rec.Reviews.ReviewCount)
	assert.Contains(t, rec.Metadata, "schemaOrg")
}

func TestTrademax_OutOfStockWithoutCartButton(t *testing.T) {
	html := strings.Replace(trademaxProduct, `<button data-test-id="add-to-cart-button">Lägg i varukorg</button>`, "", 1)
	def, _ := NewTrademax(crawler.LaunchOptions{})

	rec, err := def.Strategy.ExtractDetail(context.Background(), parse(t, "https://www.trademax.se/x-p1", html))
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityOutOfStock, rec.Availability)
}

func TestTrademax_MissingNameIsIllFormatted(t *testing.T) {
	def, _ := NewTrademax(crawler.LaunchOptions{})

	_, err := def.Strategy.ExtractDetail(context.Background(), parse(t, "https://www.trademax.se/x-p1", "<html><body><main></main></body></html>"))
	assert.ErrorIs(t, err, crawler.ErrIllFormatted)
}

func TestIsTrademaxProductPage(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.trademax.se/soffor/3-sits-soffa-oslo-p123", true},
		{"https://www.trademax.se/soffor/3-sits", false},
		{"https://www.trademax.se/", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTrademaxProductPage(tt.url))
		})
	}
}

func TestTrademax_RedirectToCategoryIsNotFound(t *testing.T) {
	def, _ := NewTrademax(crawler.LaunchOptions{})
	cls := crawler.NewClassifier(def.DetailRules...)

	ce := cls.Classify(nil, crawler.PageState{URL: "https://www.trademax.se/soffor", Status: 200})
	require.NotNil(t, ce)
	assert.Equal(t, crawler.KindNotFound, ce.Kind)

	assert.Nil(t, cls.Classify(nil, crawler.PageState{URL: "https://www.trademax.se/soffor/oslo-p123", Status: 200}))
}

const wayfairProduct = `<html><head><title>Ecksofa Lund | Wayfair.de</title></head><body>
<div class="PdpLayoutResponsive-breadcrumbWrap"><nav><ol>
  <li><a href="https://www.wayfair.de/">Startseite</a></li>
  <li><a href="https://www.wayfair.de/moebel/sb0/sofas-c1.html">Sofas</a></li>
  <li>SKU: WFD1234</li>
</ol></nav></div>
<div data-enzyme-id="PdpLayout-infoBlock">
  <header>
    <h1>Ecksofa Lund</h1>
    <a data-enzyme-id="pdp-title-block-manufacturer-name">Home Affaire</a>
  </header>
  <div class="SFPrice"><span>1.519,99 €</span><s>1.899,00 €</s></div>
  <span class="ProductRatingNumberWithCount-rating">4,6</span>
  <span class="ProductRatingNumberWithCount-count">(87)</span>
</div>
<div class="ProductOverviewItem"><div class="ProductOverviewInformation-content">Bequeme Ecksofa.</div></div>
<ul><li class="ProductDetailImageCarousel-carouselItem"><img src="https://assets.wfcdn.com/lund-1.jpg"></li></ul>
<script>window["WEBPACK_ENTRY_DATA"] = {"product":{"partNumber":"LUND-ECK-01","x":1}};</script>
</body></html>`

func TestWayfair_ExtractDetail(t *testing.T) {
	ctx := context.Background()
	def, err := NewWayfair(crawler.LaunchOptions{})
	require.NoError(t, err)

	rec, err := def.Strategy.ExtractDetail(ctx, parse(t, "https://www.wayfair.de/moebel/pdp/ecksofa-lund-wfd1234.html", wayfairProduct))
	require.NoError(t, err)

	assert.Equal(t, "Ecksofa Lund", rec.Name)
	assert.Equal(t, "Home Affaire", rec.Brand)
	assert.Equal(t, "Bequeme Ecksofa.", rec.Description)
	assert.InDelta(t, 1519.99, rec.Price, 0.001)
	require.NotNil(t, rec.OriginalPrice)
	assert.InDelta(t, 1899.0, *rec.OriginalPrice, 0.001)
	assert.True(t, rec.IsDiscounted)
	assert.Equal(t, "EUR", rec.Currency)
	assert.Equal(t, "WFD1234", rec.SKU)
	assert.Equal(t, "LUND-ECK-01", rec.MPN)
	assert.Equal(t, models.AvailabilityInStock, rec.Availability)
	assert.Equal(t, []string{"https://assets.wfcdn.com/lund-1.jpg"}, rec.Images)
	assert.Equal(t, []models.Category{{Name: "Sofas", URL: "https://www.wayfair.de/moebel/sb0/sofas-c1.html"}}, rec.CategoryTree)
	require.NotNil(t, rec.Reviews)
	assert.InDelta(t, 4.6, rec.Reviews.AverageRating, 0.001)
	assert.Equal(t, 87, rec.Reviews.ReviewCount)
}

func TestWayfair_CaptchaWidget(t *testing.T) {
	html := strings.Replace(wayfairProduct, "<body>", `<body><div class="px-captcha-error-container"></div>`, 1)
	def, _ := NewWayfair(crawler.LaunchOptions{})

	_, err := def.Strategy.ExtractDetail(context.Background(), parse(t, "https://www.wayfair.de/pdp/x.html", html))
	assert.ErrorIs(t, err, crawler.ErrCaptcha)
}

func TestWayfair_OutOfStock(t *testing.T) {
	html := strings.Replace(wayfairProduct, "<body>", `<body><div class="OutOfStockOverlay"></div>`, 1)
	def, _ := NewWayfair(crawler.LaunchOptions{})

	rec, err := def.Strategy.ExtractDetail(context.Background(), parse(t, "https://www.wayfair.de/pdp/x.html", html))
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityOutOfStock, rec.Availability)
}

func TestWayfair_Rules(t *testing.T) {
	def, _ := NewWayfair(crawler.LaunchOptions{})
	rules := append(append([]crawler.Rule{}, def.Rules...), def.DetailRules...)
	cls := crawler.NewClassifier(rules...)

	tests := []struct {
		name  string
		state crawler.PageState
		want  crawler.ErrorKind
	}{
		{"blocked redirect", crawler.PageState{URL: "https://www.wayfair.de/blocked.php?x=1", Status: 200}, crawler.KindGotBlocked},
		{"captcha redirect", crawler.PageState{URL: "https://www.wayfair.de/v/captcha/show", Status: 200}, crawler.KindCaptcha},
		{"homepage", crawler.PageState{URL: "https://www.wayfair.de/", Status: 200}, crawler.KindNotFound},
		{"category", crawler.PageState{URL: "https://www.wayfair.de/moebel/sb0/sofas-c1.html", Status: 200}, crawler.KindNotFound},
		{"perimeterx title", crawler.PageState{URL: "https://www.wayfair.de/pdp/x.html", Status: 403, Title: "Access to this page has been denied."}, crawler.KindCaptcha},
		{"rate limited", crawler.PageState{URL: "https://www.wayfair.de/pdp/x.html", Status: 429}, crawler.KindCaptcha},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := cls.Classify(nil, tt.state)
			require.NotNil(t, ce)
			assert.Equal(t, tt.want, ce.Kind)
		})
	}

	listing := crawler.NewClassifier(def.Rules...)
	assert.Nil(t, listing.Classify(nil, crawler.PageState{URL: "https://www.wayfair.de/moebel/sb0/sofas-c1.html", Status: 200}))
	assert.Nil(t, cls.Classify(nil, crawler.PageState{URL: "https://www.wayfair.de/moebel/pdp/x.html", Status: 200}))
}

func TestSchemaOrg_ArrayAndOffers(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">not json</script>
<script type="application/ld+json">[{"@type":"Organization"},{"@type":["Product","Thing"],"name":" Lamp ",
 "brand":{"@type":"Brand","name":"Lumo"},"sku":"L-1","image":{"url":"https://x.se/l.jpg"},
 "offers":{"@type":"AggregateOffer","lowPrice":"299.00","priceCurrency":"SEK","availability":"https://schema.org/OutOfStock"}}]</script>
</head><body></body></html>`

	rec, err := SchemaOrg{}.ExtractDetail(context.Background(), parse(t, "https://x.se/lamp", html))
	require.NoError(t, err)
	assert.Equal(t, "Lamp", rec.Name)
	assert.Equal(t, "Lumo", rec.Brand)
	assert.Equal(t, "L-1", rec.SKU)
	assert.Equal(t, 299.0, rec.Price)
	assert.Equal(t, "SEK", rec.Currency)
	assert.Equal(t, models.AvailabilityOutOfStock, rec.Availability)
	assert.Equal(t, []string{"https://x.se/l.jpg"}, rec.Images)
	assert.Equal(t, "https://x.se/lamp", rec.URL)
}

func TestSchemaOrg_NoProduct(t *testing.T) {
	_, err := SchemaOrg{}.ExtractDetail(context.Background(), parse(t, "https://x.se/", "<html></html>"))
	assert.ErrorIs(t, err, crawler.ErrElementNotFound)
}

func TestSchemaOrg_ExtractCardInfo(t *testing.T) {
	ctx := context.Background()
	page := parse(t, "https://x.se/c", `<div class="tile"><a class="link" href="/p/1">x</a><span class="n">Chair</span></div>`)
	tile, err := page.Query(ctx, "div.tile")
	require.NoError(t, err)

	card, err := SchemaOrg{NameSelector: "span.n", LinkSelector: "a.link"}.ExtractCardInfo(ctx, page.URL(), tile)
	require.NoError(t, err)
	assert.Equal(t, "/p/1", card.URL)
	assert.Equal(t, "Chair", card.Name)

	_, err = SchemaOrg{}.ExtractCardInfo(ctx, page.URL(), tile)
	assert.ErrorIs(t, err, crawler.ErrElementNotFound)
}

func TestRegistry_BuiltinsAndWWW(t *testing.T) {
	r := NewRegistry(testLogger())

	def, err := r.Definition("WWW.Trademax.se")
	require.NoError(t, err)
	assert.Equal(t, crawler.BackendDocument, def.Backend)

	again, err := r.Definition("trademax.se")
	require.NoError(t, err)
	assert.Same(t, def, again)

	def, err = r.Definition("wayfair.de")
	require.NoError(t, err)
	assert.Equal(t, crawler.BackendBrowser, def.Backend)

	_, err = r.Definition("unknown.se")
	assert.ErrorIs(t, err, ErrUnknownSite)
	assert.ElementsMatch(t, []string{"trademax.se", "wayfair.de"}, r.Domains())
}

const profilesTOML = `
[[site]]
domain = "www.trademax.se"
backend = "browser"
page_size = 48

[site.scroll]
kind = "incremental"
step = 800
pause = "250ms"
register_each_step = true

[[site]]
domain = "mio.se"
card_selector = "article.product a"
name_selector = "h3"
page_param = "p"

[site.scroll]
kind = "convergent"
pause = "1s"
nudge_up = 300
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfiles_OverridesAndDeclares(t *testing.T) {
	profiles, err := LoadProfiles(writeProfiles(t, profilesTOML))
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "trademax.se", profiles[0].Domain)

	r := NewRegistry(testLogger(), profiles...)

	tm, err := r.Definition("trademax.se")
	require.NoError(t, err)
	assert.Equal(t, crawler.BackendBrowser, tm.Backend)
	assert.Equal(t, 48, tm.CategoryPageSize)
	assert.Equal(t, "li a[role='article']", tm.CardSelector)
	assert.Equal(t, crawler.IncrementalScroll{Step: 800, Pause: 250 * time.Millisecond, RegisterEachStep: true}, tm.Scroll)

	mio, err := r.Definition("mio.se")
	require.NoError(t, err)
	assert.Equal(t, crawler.BackendDocument, mio.Backend)
	assert.Equal(t, "article.product a", mio.CardSelector)
	assert.Equal(t, "p", mio.PageParam)
	assert.Equal(t, SchemaOrg{NameSelector: "h3"}, mio.Strategy)
	scroll, ok := mio.Scroll.(crawler.ConvergentScroll)
	require.True(t, ok)
	assert.Equal(t, time.Second, scroll.StepWait)
	assert.NotNil(t, scroll.Stop)
}

func TestLoadProfiles_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no domain", "[[site]]\nbackend = \"document\"\n"},
		{"bad backend", "[[site]]\ndomain = \"a.se\"\nbackend = \"curl\"\n"},
		{"bad scroll", "[[site]]\ndomain = \"a.se\"\n[site.scroll]\nkind = \"sideways\"\n"},
		{"bad toml", "[[site]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProfiles(writeProfiles(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestRegistry_ProfileWithoutCardSelector(t *testing.T) {
	r := NewRegistry(testLogger(), Profile{Domain: "a.se"})

	_, err := r.Definition("a.se")
	assert.ErrorContains(t, err, "card_selector")
}
