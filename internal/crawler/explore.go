package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/maltedev/shelf-crawler/internal/models"
	"github.com/maltedev/shelf-crawler/internal/queue"
)

// ExploreCategory walks the listing pages of a category and returns the
// detail units it admitted, in discovery order. Pages are processed one at a
// time. An error is returned only when the first page could not be crawled
// or the site is unknown; later failures end exploration early.
func (o *Orchestrator) ExploreCategory(ctx context.Context, categoryURL, jobID string, opts Options) ([]*models.WorkUnit, error) {
	opts = opts.withDefaults()

	s, err := o.siteFor(categoryURL, opts.Retailer)
	if err != nil {
		return nil, err
	}
	admitter := o.admitterFor(jobID)

	var units []*models.WorkUnit
	seenPages := make(map[string]bool)
	current := models.NewListingUnit(categoryURL, jobID, 1)

	for current != nil && current.UserData.PageNumber <= opts.MaxListingPages {
		if ctx.Err() != nil {
			break
		}
		if seenPages[current.URL] {
			o.logger.Warn("pagination loop detected", "job_id", jobID, "url", current.URL)
			break
		}
		seenPages[current.URL] = true

		before := len(units)
		next, ce := o.exploreListingPage(ctx, s, admitter, current, &units, opts)
		if ce != nil {
			if current.UserData.PageNumber == 1 && len(units) == 0 {
				return units, ce
			}
			break
		}

		o.logger.Info("listing page explored",
			"job_id", jobID,
			"url", current.URL,
			"page", current.UserData.PageNumber,
			"admitted", len(units)-before,
			"total", len(units))

		if len(units) == before && current.UserData.PageNumber > 1 {
			break
		}
		current = next
	}

	return units, nil
}

func (o *Orchestrator) exploreListingPage(ctx context.Context, s *site, admitter queue.Admitter, unit *models.WorkUnit, units *[]*models.WorkUnit, opts Options) (*models.WorkUnit, *CrawlError) {
	jobID := unit.UserData.JobID

	for {
		_ = unit.Transition(models.StateInProgress)

		var nextURL string
		var hasNext bool
		res := o.visit(ctx, s, s.listing, unit, opts, unit.RetryCount+1 >= opts.MaxRetries,
			func(ctx context.Context, page Page, _ PageState) error {
				o.dismissCookieConsent(ctx, s, page)

				found := 0
				slots := make(map[string]int)
				register := func(ctx context.Context) error {
					if s.def.CardSelector == "" {
						return fmt.Errorf("%w: no card selector for %s", ErrElementNotFound, s.def.Domain)
					}
					nodes, err := page.QueryAll(ctx, s.def.CardSelector)
					if err != nil {
						return fmt.Errorf("failed to query cards: %w", err)
					}
					for position, node := range nodes {
						o.registerCard(ctx, s, admitter, unit, position, slots, node, units)
					}
					found = max(found, len(nodes), len(slots))
					return nil
				}

				if err := s.def.Scroll.Scroll(ctx, page, register); err != nil {
					return err
				}
				if found == 0 {
					if unit.UserData.PageNumber == 1 {
						return IllFormatted(unit.URL, "no cards matched %q", s.def.CardSelector)
					}
					return nil
				}

				var err error
				nextURL, hasNext, err = o.nextPage(ctx, s, page, unit, found)
				return err
			})

		if res.err == nil || res.suppressed {
			_ = unit.Transition(models.StateSucceeded)
			o.metrics.IncUnit(string(unit.Kind), string(unit.State))
			if !hasNext || nextURL == "" {
				return nil, nil
			}
			next := models.NewListingUnit(nextURL, jobID, unit.UserData.PageNumber+1)
			next.UserData.CategoryURL = unit.UserData.CategoryURL
			return next, nil
		}

		if retry(unit, res.err, opts.MaxRetries) {
			o.logger.Info("retrying listing page", "job_id", jobID, "url", unit.URL, "kind", res.err.Kind, "attempt", unit.RetryCount+1)
			continue
		}

		o.metrics.IncUnit(string(unit.Kind), string(unit.State))
		o.logger.Error("listing page failed",
			"job_id", jobID,
			"url", unit.URL,
			"kind", res.err.Kind,
			"error", res.err.Error(),
			"attempts", unit.RetryCount)
		return nil, res.err
	}
}

// registerCard extracts one card and admits its url. The popularity rank is
// fixed here, at first sight. slots holds the index of every card url seen on
// the listing page, so ranks stay unique when register runs once per scroll
// step over a DOM that unmounts cards.
func (o *Orchestrator) registerCard(ctx context.Context, s *site, admitter queue.Admitter, listing *models.WorkUnit, position int, slots map[string]int, node Node, units *[]*models.WorkUnit) {
	jobID := listing.UserData.JobID

	card, err := s.def.Strategy.ExtractCardInfo(ctx, listing.UserData.CategoryURL, node)
	if err != nil {
		o.logger.Debug("skipping card", "job_id", jobID, "url", listing.URL, "position", position, "error", err)
		return
	}
	if card == nil || card.URL == "" {
		return
	}

	abs, err := resolveURL(listing.URL, card.URL)
	if err != nil {
		o.logger.Debug("skipping card with bad url", "job_id", jobID, "href", card.URL, "error", err)
		return
	}
	card.URL = abs
	if card.CategoryURL == "" {
		card.CategoryURL = listing.UserData.CategoryURL
	}

	key, err := queue.Canonicalize(card.URL)
	if err != nil {
		key = card.URL
	}
	slot, seen := slots[key]
	if !seen {
		slot = len(slots)
		slots[key] = slot
	}

	// ok is honoured even with an error: the url may already be recorded.
	ok, err := admitter.Admit(ctx, card.URL)
	if err != nil {
		o.logger.Warn("failed to admit card", "job_id", jobID, "url", card.URL, "admitted", ok, "error", err)
	}
	if !ok {
		return
	}

	if card.PopularityIndex == 0 {
		if size := s.def.CategoryPageSize; size > 0 {
			card.PopularityIndex = (listing.UserData.PageNumber-1)*size + slot + 1
		} else {
			card.PopularityIndex = len(*units) + 1
		}
	}

	unit := models.NewDetailUnit(card, jobID)
	unit.UserData.PageNumber = listing.UserData.PageNumber
	*units = append(*units, unit)

	if o.sink != nil {
		if err := o.sink.Append(ctx, models.ListingDataset(jobID), card); err != nil {
			o.logger.Error("failed to append listing card", "job_id", jobID, "url", card.URL, "error", err)
			return
		}
		o.metrics.IncRecord("listing")
	}
}

func (o *Orchestrator) nextPage(ctx context.Context, s *site, page Page, unit *models.WorkUnit, found int) (string, bool, error) {
	if p, ok := s.def.Strategy.(Paginator); ok {
		return p.NextPageURL(ctx, page, unit)
	}

	if sel := s.def.NextPageSelector; sel != "" {
		href, err := Attr(ctx, page, sel, "href")
		if err != nil {
			return "", false, fmt.Errorf("failed to read next page link: %w", err)
		}
		if href == "" {
			return "", false, nil
		}
		next, err := resolveURL(page.URL(), href)
		if err != nil {
			return "", false, err
		}
		return next, true, nil
	}

	if param := s.def.PageParam; param != "" {
		if s.def.CategoryPageSize > 0 && found < s.def.CategoryPageSize {
			return "", false, nil
		}
		next, err := WithPageParam(unit.UserData.CategoryURL, param, unit.UserData.PageNumber+1)
		if err != nil {
			return "", false, err
		}
		return next, true, nil
	}

	return "", false, nil
}

// WithPageParam sets the pagination query parameter of a category url.
func WithPageParam(categoryURL, param string, page int) (string, error) {
	u, err := url.Parse(categoryURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse category url %q: %w", categoryURL, err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (o *Orchestrator) dismissCookieConsent(ctx context.Context, s *site, page Page) {
	sel := s.def.CookieConsentSelector
	if sel == "" {
		return
	}
	_, err := page.Evaluate(ctx, `(s) => { const el = document.querySelector(s); if (el) { el.click(); return true } return false }`, sel)
	if err != nil {
		o.logger.Debug("cookie consent not dismissed", "url", page.URL(), "error", err)
	}
}
