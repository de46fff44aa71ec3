package sites

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maltedev/shelf-crawler/internal/crawler"
)

var ErrUnknownSite = errors.New("no site definition")

// Registry maps domains to site definitions. Built-in factories take
// precedence; profiles override their selectors or declare new domains.
type Registry struct {
	logger    *slog.Logger
	factories map[string]crawler.Factory
	profiles  map[string]Profile

	mu    sync.Mutex
	cache map[string]*crawler.Definition
}

func NewRegistry(logger *slog.Logger, profiles ...Profile) *Registry {
	r := &Registry{
		logger:    logger.With("component", "sites"),
		factories: make(map[string]crawler.Factory),
		profiles:  make(map[string]Profile),
		cache:     make(map[string]*crawler.Definition),
	}
	r.Register("trademax.se", NewTrademax)
	r.Register("wayfair.de", NewWayfair)
	for _, p := range profiles {
		r.profiles[normalizeDomain(p.Domain)] = p
	}
	return r
}

func (r *Registry) Register(domain string, factory crawler.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	domain = normalizeDomain(domain)
	r.factories[domain] = factory
	delete(r.cache, domain)
}

// Domains lists every domain the registry can resolve.
func (r *Registry) Domains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories)+len(r.profiles))
	for d := range r.factories {
		out = append(out, d)
	}
	for d := range r.profiles {
		if _, ok := r.factories[d]; !ok {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Definition(domain string) (*crawler.Definition, error) {
	domain = normalizeDomain(domain)

	r.mu.Lock()
	defer r.mu.Unlock()

	if def, ok := r.cache[domain]; ok {
		return def, nil
	}

	profile, hasProfile := r.profiles[domain]
	factory, hasFactory := r.factories[domain]

	var def *crawler.Definition
	switch {
	case hasFactory:
		var err error
		def, err = factory(crawler.LaunchOptions{Domain: domain, Logger: r.logger})
		if err != nil {
			return nil, fmt.Errorf("failed to build site %s: %w", domain, err)
		}
	case hasProfile:
		if profile.CardSelector == "" {
			return nil, fmt.Errorf("site %s: profile without card_selector", domain)
		}
		def = &crawler.Definition{
			Domain:   domain,
			Strategy: SchemaOrg{},
			Backend:  crawler.BackendDocument,
			Scroll:   crawler.NoScroll{},
		}
	default:
		return nil, fmt.Errorf("%w for %s", ErrUnknownSite, domain)
	}

	if hasProfile {
		profile.apply(def)
	}
	r.cache[domain] = def

	r.logger.Info("site resolved", "domain", domain, "backend", def.Backend, "profile", hasProfile)
	return def, nil
}
