package queue

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Admitter tracks the URLs of one job and accepts each canonical URL once.
// Admit reports ok=true whenever the url was recorded, even if err is set.
type Admitter interface {
	Admit(ctx context.Context, rawURL string) (bool, error)
	Reset(ctx context.Context) error
}

var trackingParams = map[string]bool{
	"gclid":   true,
	"fbclid":  true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"_ga":     true,
	"ref":     true,
	"srsltid": true,
	"yclid":   true,
	"dclid":   true,
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	return trackingParams[k] || strings.HasPrefix(k, "utm_")
}

// Canonicalize returns the form of rawURL used for dedup comparison.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}
	if u.Path == "/" {
		u.Path = ""
	}

	query := u.Query()
	for key := range query {
		if isTrackingParam(key) {
			query.Del(key)
		}
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		values := query[key]
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = b.String()
	u.ForceQuery = false

	return u.String(), nil
}

// VisitedSet is the in-process visited key set of one job.
type VisitedSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewVisitedSet() *VisitedSet {
	return &VisitedSet{keys: make(map[string]struct{})}
}

func (v *VisitedSet) Admit(_ context.Context, rawURL string) (bool, error) {
	key, err := Canonicalize(rawURL)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, seen := v.keys[key]; seen {
		return false, nil
	}
	v.keys[key] = struct{}{}
	return true, nil
}

func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.keys)
}

func (v *VisitedSet) Reset(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys = make(map[string]struct{})
	return nil
}
