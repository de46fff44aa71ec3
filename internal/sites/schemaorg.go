package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/maltedev/shelf-crawler/internal/crawler"
	"github.com/maltedev/shelf-crawler/internal/models"
)

const jsonLDSelector = `script[type="application/ld+json"]`

// SchemaOrg extracts detail records from the schema.org Product JSON-LD most
// shops embed. It is the fallback for domains without a dedicated strategy.
type SchemaOrg struct {
	// NameSelector and LinkSelector locate a card's name and link. An empty
	// LinkSelector reads href from the card itself.
	NameSelector string
	LinkSelector string
}

func (s SchemaOrg) ExtractCardInfo(ctx context.Context, categoryURL string, card crawler.Node) (*models.ListingCard, error) {
	var href string
	var err error
	if s.LinkSelector == "" {
		href, _, err = card.Attr(ctx, "href")
	} else {
		href, err = crawler.Attr(ctx, card, s.LinkSelector, "href")
	}
	if err != nil {
		return nil, err
	}
	if href == "" {
		return nil, fmt.Errorf("%w: card link", crawler.ErrElementNotFound)
	}

	var name string
	if s.NameSelector != "" {
		if name, err = crawler.Text(ctx, card, s.NameSelector); err != nil {
			return nil, err
		}
	}

	return &models.ListingCard{URL: href, CategoryURL: categoryURL, Name: name}, nil
}

func (s SchemaOrg) ExtractDetail(ctx context.Context, page crawler.Page) (*models.DetailRecord, error) {
	product, err := FindProduct(ctx, page)
	if err != nil {
		return nil, err
	}
	rec := RecordFromProduct(product)
	if rec.URL == "" {
		rec.URL = page.URL()
	}
	return rec, nil
}

// FindProduct returns the first JSON-LD object typed Product on the page.
// Arrays and @graph containers are searched.
func FindProduct(ctx context.Context, page crawler.Node) (map[string]any, error) {
	scripts, err := page.QueryAll(ctx, jsonLDSelector)
	if err != nil {
		return nil, err
	}
	for _, script := range scripts {
		text, err := script.Text(ctx)
		if err != nil || text == "" {
			continue
		}
		var doc any
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			continue
		}
		if p := findTyped(doc, "Product"); p != nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: schema.org Product", crawler.ErrElementNotFound)
}

func findTyped(v any, typ string) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if found := findTyped(item, typ); found != nil {
				return found
			}
		}
	case map[string]any:
		if hasType(t["@type"], typ) {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findTyped(graph, typ)
		}
	}
	return nil
}

func hasType(v any, typ string) bool {
	switch t := v.(type) {
	case string:
		return t == typ
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == typ {
				return true
			}
		}
	}
	return false
}

// RecordFromProduct maps a schema.org Product onto a detail record. The raw
// object is kept under Metadata["schemaOrg"].
func RecordFromProduct(p map[string]any) *models.DetailRecord {
	rec := &models.DetailRecord{
		Name:        strings.TrimSpace(str(p["name"])),
		Description: strings.TrimSpace(str(p["description"])),
		URL:         str(p["url"]),
		SKU:         str(p["sku"]),
		MPN:         str(p["mpn"]),
		GTIN:        firstNonEmpty(str(p["gtin13"]), str(p["gtin"]), str(p["gtin12"]), str(p["gtin8"])),
		Images:      strs(p["image"]),
		Metadata:    map[string]any{"schemaOrg": p},
	}

	switch b := p["brand"].(type) {
	case string:
		rec.Brand = b
	case map[string]any:
		rec.Brand = str(b["name"])
	}

	if offer := firstOffer(p["offers"]); offer != nil {
		price, hasPrice := num(offer["price"])
		if !hasPrice {
			price, hasPrice = num(offer["lowPrice"])
		}
		if hasPrice {
			rec.Price = price
		}
		rec.Currency = str(offer["priceCurrency"])

		avail := str(offer["availability"])
		switch {
		case strings.HasSuffix(avail, "InStock"), strings.HasSuffix(avail, "LimitedAvailability"):
			rec.Availability = models.AvailabilityInStock
		case avail != "":
			rec.Availability = models.AvailabilityOutOfStock
		}
	}

	if rating, ok := p["aggregateRating"].(map[string]any); ok {
		avg, _ := num(rating["ratingValue"])
		count, ok := num(rating["reviewCount"])
		if !ok {
			count, _ = num(rating["ratingCount"])
		}
		rec.Reviews = &models.Reviews{AverageRating: avg, ReviewCount: int(count)}
	}

	return rec
}

func firstOffer(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		if nested, ok := t["offers"]; ok && str(t["@type"]) == "AggregateOffer" {
			if o := firstOffer(nested); o != nil && o["price"] != nil {
				return o
			}
		}
		return t
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func strs(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch i := item.(type) {
			case string:
				out = append(out, i)
			case map[string]any:
				if u := str(i["url"]); u != "" {
					out = append(out, u)
				}
			}
		}
		return out
	case map[string]any:
		if u := str(t["url"]); u != "" {
			return []string{u}
		}
	}
	return nil
}

func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
		amount, _, ok := ParsePrice(t)
		return amount, ok
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
