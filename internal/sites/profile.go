package sites

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/maltedev/shelf-crawler/internal/crawler"
)

// Profile overrides or declares a site from configuration. Empty fields keep
// the built-in value. Domains without a built-in strategy are crawled with
// the schema.org extractor.
type Profile struct {
	Domain           string        `toml:"domain"`
	Backend          string        `toml:"backend"`
	CardSelector     string        `toml:"card_selector"`
	NameSelector     string        `toml:"name_selector"`
	LinkSelector     string        `toml:"link_selector"`
	NextPageSelector string        `toml:"next_page_selector"`
	CookieSelector   string        `toml:"cookie_selector"`
	ProductSelector  string        `toml:"product_selector"`
	PageParam        string        `toml:"page_param"`
	PageSize         int           `toml:"page_size"`
	Scroll           *ScrollConfig `toml:"scroll"`
}

type ScrollConfig struct {
	Kind             string        `toml:"kind"`
	Step             int           `toml:"step"`
	Pause            time.Duration `toml:"pause"`
	RegisterEachStep bool          `toml:"register_each_step"`
	MaxSteps         int           `toml:"max_steps"`
	MaxRounds        int           `toml:"max_rounds"`
	NudgeUp          int           `toml:"nudge_up"`
}

type profileFile struct {
	Sites []Profile `toml:"site"`
}

// LoadProfiles reads [[site]] tables from a TOML file.
func LoadProfiles(path string) ([]Profile, error) {
	var f profileFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to decode site profiles: %w", err)
	}
	for i := range f.Sites {
		p := &f.Sites[i]
		p.Domain = normalizeDomain(p.Domain)
		if p.Domain == "" {
			return nil, fmt.Errorf("site profile %d has no domain", i)
		}
		if _, err := p.backend(); err != nil {
			return nil, err
		}
		if p.Scroll != nil {
			if _, err := p.Scroll.strategy(); err != nil {
				return nil, fmt.Errorf("site %s: %w", p.Domain, err)
			}
		}
	}
	return f.Sites, nil
}

func (p Profile) backend() (crawler.Backend, error) {
	switch crawler.Backend(p.Backend) {
	case "":
		return "", nil
	case crawler.BackendBrowser, crawler.BackendDocument:
		return crawler.Backend(p.Backend), nil
	default:
		return "", fmt.Errorf("site %s: unknown backend %q", p.Domain, p.Backend)
	}
}

func (s ScrollConfig) strategy() (crawler.ScrollStrategy, error) {
	switch s.Kind {
	case "", "none":
		return crawler.NoScroll{}, nil
	case "incremental":
		return crawler.IncrementalScroll{
			Step:             s.Step,
			Pause:            s.Pause,
			RegisterEachStep: s.RegisterEachStep,
			MaxSteps:         s.MaxSteps,
		}, nil
	case "convergent":
		scroll := crawler.ConvergentScroll{StepWait: s.Pause, MaxRounds: s.MaxRounds}
		if s.NudgeUp > 0 {
			scroll.Stop = crawler.NudgeUp(s.NudgeUp, s.Pause, s.RegisterEachStep)
		}
		return scroll, nil
	default:
		return nil, fmt.Errorf("unknown scroll kind %q", s.Kind)
	}
}

// apply copies the non-empty fields of p onto def.
func (p Profile) apply(def *crawler.Definition) {
	if backend, _ := p.backend(); backend != "" {
		def.Backend = backend
	}
	if p.CardSelector != "" {
		def.CardSelector = p.CardSelector
	}
	if p.NextPageSelector != "" {
		def.NextPageSelector = p.NextPageSelector
	}
	if p.CookieSelector != "" {
		def.CookieConsentSelector = p.CookieSelector
	}
	if p.ProductSelector != "" {
		def.ProductPageSelector = p.ProductSelector
	}
	if p.PageParam != "" {
		def.PageParam = p.PageParam
	}
	if p.PageSize > 0 {
		def.CategoryPageSize = p.PageSize
	}
	if p.Scroll != nil {
		if scroll, err := p.Scroll.strategy(); err == nil {
			def.Scroll = scroll
		}
	}
	if so, ok := def.Strategy.(SchemaOrg); ok {
		if p.NameSelector != "" {
			so.NameSelector = p.NameSelector
		}
		if p.LinkSelector != "" {
			so.LinkSelector = p.LinkSelector
		}
		def.Strategy = so
	}
}

func normalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
}
