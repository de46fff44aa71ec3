package models

import (
	"fmt"
	"strings"
	"time"
)

type Availability string

const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
	AvailabilityUnknown    Availability = ""
)

type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Specification struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Review struct {
	Rating  float64 `json:"rating"`
	Content string  `json:"content,omitempty"`
	Author  string  `json:"author,omitempty"`
}

type Reviews struct {
	AverageRating float64  `json:"averageReview"`
	ReviewCount   int      `json:"reviewCount"`
	Recent        []Review `json:"recentReviews,omitempty"`
}

// ListingCard is the summary a strategy extracts from one card on a listing page.
type ListingCard struct {
	URL             string   `json:"url"`
	CategoryURL     string   `json:"categoryUrl"`
	PopularityIndex int      `json:"popularityIndex,omitempty"`
	Name            string   `json:"name,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	PreviewImageURL string   `json:"previewImageUrl,omitempty"`
	Label           string   `json:"label,omitempty"`
}

type DetailRecord struct {
	URL             string          `json:"url"`
	Name            string          `json:"name"`
	Brand           string          `json:"brand,omitempty"`
	Description     string          `json:"description,omitempty"`
	Price           float64         `json:"price"`
	Currency        string          `json:"currency"`
	IsDiscounted    bool            `json:"isDiscounted"`
	OriginalPrice   *float64        `json:"originalPrice,omitempty"`
	Availability    Availability    `json:"availability,omitempty"`
	GTIN            string          `json:"gtin,omitempty"`
	SKU             string          `json:"sku,omitempty"`
	MPN             string          `json:"mpn,omitempty"`
	PopularityIndex int             `json:"popularityIndex,omitempty"`
	CategoryURL     string          `json:"categoryUrl,omitempty"`
	CategoryTree    []Category      `json:"categoryTree,omitempty"`
	Images          []string        `json:"images,omitempty"`
	Specifications  []Specification `json:"specifications,omitempty"`
	Reviews         *Reviews        `json:"reviews,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	RetailerDomain  string          `json:"retailerDomain"`
	FetchedAt       time.Time       `json:"fetchedAt"`
}

func (r *DetailRecord) IsValid() bool {
	return len(r.Validate()) == 0
}

// Validate returns every invariant the record violates.
func (r *DetailRecord) Validate() []string {
	var errs []string

	if r.URL == "" {
		errs = append(errs, "url is required")
	}
	if r.Name == "" {
		errs = append(errs, "name is required")
	}
	if r.Price < 0 {
		errs = append(errs, fmt.Sprintf("price must be non-negative, got %.2f", r.Price))
	}
	if r.IsDiscounted {
		switch {
		case r.OriginalPrice == nil:
			errs = append(errs, "discounted record has no original price")
		case *r.OriginalPrice < 0:
			errs = append(errs, fmt.Sprintf("original price must be non-negative, got %.2f", *r.OriginalPrice))
		case *r.OriginalPrice <= r.Price:
			errs = append(errs, fmt.Sprintf("original price %.2f must exceed price %.2f", *r.OriginalPrice, r.Price))
		}
	}
	switch r.Availability {
	case AvailabilityInStock, AvailabilityOutOfStock, AvailabilityUnknown:
	default:
		errs = append(errs, fmt.Sprintf("unknown availability %q", r.Availability))
	}
	for i, c := range r.CategoryTree {
		if c.Name == "" {
			errs = append(errs, fmt.Sprintf("category %d has no name", i))
		}
		if isRootURL(c.URL) {
			errs = append(errs, fmt.Sprintf("category %d is the site root", i))
		}
	}

	return errs
}

// SetPrices fills price, original price and the discount flag consistently.
// A strike-through price that does not exceed the current price is dropped.
func (r *DetailRecord) SetPrices(price float64, original *float64) {
	r.Price = price
	r.OriginalPrice = nil
	r.IsDiscounted = false
	if original != nil && *original > price {
		o := *original
		r.OriginalPrice = &o
		r.IsDiscounted = true
	}
}

// NormalizeCategoryTree trims trailing slashes, drops the home entry and any
// entry without a name. Order is kept root to leaf.
func NormalizeCategoryTree(tree []Category, homeURL string) []Category {
	home := strings.TrimSuffix(homeURL, "/")
	out := make([]Category, 0, len(tree))
	for _, c := range tree {
		c.Name = strings.TrimSpace(c.Name)
		c.URL = strings.TrimSuffix(strings.TrimSpace(c.URL), "/")
		if c.Name == "" || isRootURL(c.URL) {
			continue
		}
		if home != "" && c.URL == home {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isRootURL(u string) bool {
	if u == "" || u == "/" {
		return u == "/"
	}
	rest := u
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	rest = strings.TrimSuffix(rest, "/")
	return !strings.Contains(rest, "/")
}
