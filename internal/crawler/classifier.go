package crawler

import (
	"errors"
	"net/http"
	"strings"
)

// PageState is what the classifier may observe about a navigation.
type PageState struct {
	URL     string
	Status  int
	Headers map[string]string
	Title   string
}

func (s PageState) Header(name string) string {
	for k, v := range s.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Rule labels a fault. fault is nil when the classifier is asked to inspect a
// page that loaded without error.
type Rule struct {
	Name  string
	Match func(fault error, state PageState) (ErrorKind, bool)
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier places site rules ahead of the generic rules.
func NewClassifier(siteRules ...Rule) *Classifier {
	rules := make([]Rule, 0, len(siteRules)+len(genericRules))
	rules = append(rules, siteRules...)
	rules = append(rules, genericRules...)
	return &Classifier{rules: rules}
}

func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Classify turns fault and state into a typed error. With a nil fault it
// returns nil when no rule matches; otherwise an unmatched fault becomes
// UnknownCrawlError.
func (c *Classifier) Classify(fault error, state PageState) *CrawlError {
	for _, rule := range c.rules {
		kind, ok := rule.Match(fault, state)
		if !ok {
			continue
		}
		var existing *CrawlError
		if errors.As(fault, &existing) && existing.Kind == kind {
			ce := *existing
			if ce.URL == "" {
				ce.URL = state.URL
			}
			if ce.Status == 0 {
				ce.Status = state.Status
			}
			return &ce
		}
		msg := rule.Name
		if fault != nil {
			msg += ": " + fault.Error()
		}
		return NewCrawlError(kind, state.URL, state.Status, msg, fault)
	}

	if fault == nil {
		return nil
	}
	return NewCrawlError(KindUnknown, state.URL, state.Status, fault.Error(), fault)
}

var genericRules = []Rule{
	{
		Name: "typed error",
		Match: func(fault error, _ PageState) (ErrorKind, bool) {
			var ce *CrawlError
			if errors.As(fault, &ce) {
				return ce.Kind, true
			}
			return "", false
		},
	},
	StatusRule("too many requests", http.StatusTooManyRequests, KindCaptcha),
	StatusRule("not found", http.StatusNotFound, KindNotFound),
	StatusRule("gone", http.StatusGone, KindNotFound),
	{
		Name: "cloudflare challenge",
		Match: func(_ error, state PageState) (ErrorKind, bool) {
			if strings.EqualFold(state.Header("cf-mitigated"), "challenge") {
				return KindGotBlocked, true
			}
			return "", false
		},
	},
	StatusRule("forbidden", http.StatusForbidden, KindGotBlocked),
	{
		Name: "missing element",
		Match: func(fault error, state PageState) (ErrorKind, bool) {
			if errors.Is(fault, ErrElementNotFound) && state.Status == http.StatusOK {
				return KindIllFormatted, true
			}
			return "", false
		},
	},
}

func StatusRule(name string, status int, kind ErrorKind) Rule {
	return Rule{
		Name: name,
		Match: func(_ error, state PageState) (ErrorKind, bool) {
			return kind, state.Status == status
		},
	}
}

// TitleRule matches block pages by a fragment of their title.
func TitleRule(name, fragment string, kind ErrorKind) Rule {
	fragment = strings.ToLower(fragment)
	return Rule{
		Name: name,
		Match: func(_ error, state PageState) (ErrorKind, bool) {
			return kind, state.Title != "" && strings.Contains(strings.ToLower(state.Title), fragment)
		},
	}
}

// URLRule matches when pred rejects the final page url.
func URLRule(name string, pred func(url string) bool, kind ErrorKind) Rule {
	return Rule{
		Name: name,
		Match: func(_ error, state PageState) (ErrorKind, bool) {
			return kind, state.URL != "" && !pred(state.URL)
		},
	}
}
