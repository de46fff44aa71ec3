package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrNoProxyAvailable = errors.New("no proxy available")

// Pool hands out proxies per retailer, least recently used first, skipping
// any proxy burned for that retailer within the cooldown.
type Pool struct {
	urls     []string
	health   HealthStore
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastUsed map[string]time.Time
}

func NewPool(urls []string, health HealthStore, cooldown time.Duration, logger *slog.Logger) *Pool {
	if cooldown == 0 {
		cooldown = 30 * time.Minute
	}
	return &Pool{
		urls:     urls,
		health:   health,
		cooldown: cooldown,
		logger:   logger.With("component", "proxy_pool"),
		now:      time.Now,
		lastUsed: make(map[string]time.Time),
	}
}

func (p *Pool) Size() int {
	return len(p.urls)
}

// Acquire returns a proxy url for retailer. An empty pool means direct
// connections and yields "".
func (p *Pool) Acquire(ctx context.Context, retailer string) (string, error) {
	if len(p.urls) == 0 {
		return "", nil
	}

	now := p.now()
	var candidates []string
	for _, u := range p.urls {
		ip, err := ParseProxyIP(u)
		if err != nil {
			p.logger.Warn("skipping malformed proxy", "error", err)
			continue
		}
		burnedAt, ok, err := p.health.LastBurned(ctx, ip, retailer)
		if err != nil {
			return "", fmt.Errorf("failed to read proxy health: %w", err)
		}
		if ok && now.Sub(burnedAt) < p.cooldown {
			continue
		}
		candidates = append(candidates, u)
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoProxyAvailable, retailer)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	best := candidates[0]
	for _, u := range candidates[1:] {
		if p.lastUsed[u].Before(p.lastUsed[best]) {
			best = u
		}
	}
	p.lastUsed[best] = now

	return best, nil
}
