package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/maltedev/shelf-crawler/internal/crawler"
	"github.com/maltedev/shelf-crawler/internal/proxy"
)

var ErrBackendUnavailable = errors.New("backend not configured")

// Opener creates a session bound to proxyURL.
type Opener func(id, proxyURL string) (crawler.Session, error)

type pageCounter interface {
	Pages() int
}

// Manager pools sessions per retailer, backend and proxy. A session is closed
// when it is retired or has served RetireAfter pages.
type Manager struct {
	pool        *proxy.Pool
	openers     map[crawler.Backend]Opener
	retireAfter int
	logger      *slog.Logger

	mu     sync.Mutex
	idle   map[string][]crawler.Session
	keys   map[string]string
	closed bool
}

func NewManager(pool *proxy.Pool, retireAfter int, logger *slog.Logger) *Manager {
	return &Manager{
		pool:        pool,
		openers:     make(map[crawler.Backend]Opener),
		retireAfter: retireAfter,
		logger:      logger.With("component", "session_manager"),
		idle:        make(map[string][]crawler.Session),
		keys:        make(map[string]string),
	}
}

// Register installs the opener for a backend.
func (m *Manager) Register(backend crawler.Backend, open Opener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openers[backend] = open
}

func (m *Manager) Acquire(ctx context.Context, retailer string, backend crawler.Backend) (crawler.Session, error) {
	proxyURL, err := m.pool.Acquire(ctx, retailer)
	if err != nil {
		return nil, err
	}
	key := string(backend) + "|" + retailer + "|" + proxyURL

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("session manager is closed")
	}
	open, ok := m.openers[backend]
	for len(m.idle[key]) > 0 {
		list := m.idle[key]
		s := list[len(list)-1]
		m.idle[key] = list[:len(list)-1]
		if !s.Retired() {
			m.mu.Unlock()
			return s, nil
		}
		m.closeLocked(s)
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, backend)
	}

	s, err := open(uuid.New().String(), proxyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s session: %w", backend, err)
	}

	m.mu.Lock()
	m.keys[s.ID()] = key
	m.mu.Unlock()

	m.logger.Debug("session opened", "session_id", s.ID(), "backend", backend, "retailer", retailer, "proxy", proxyURL != "")
	return s, nil
}

func (m *Manager) Release(s crawler.Session) {
	if s == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || s.Retired() || m.exhausted(s) {
		m.closeLocked(s)
		return
	}
	key, ok := m.keys[s.ID()]
	if !ok {
		return
	}
	m.idle[key] = append(m.idle[key], s)
}

func (m *Manager) exhausted(s crawler.Session) bool {
	if m.retireAfter <= 0 {
		return false
	}
	if pc, ok := s.(pageCounter); ok {
		return pc.Pages() >= m.retireAfter
	}
	return false
}

// closeLocked must be called with m.mu held.
func (m *Manager) closeLocked(s crawler.Session) {
	delete(m.keys, s.ID())
	if err := s.Close(); err != nil {
		m.logger.Warn("failed to close session", "session_id", s.ID(), "error", err)
		return
	}
	m.logger.Debug("session closed", "session_id", s.ID(), "retired", s.Retired())
}

// Idle is the number of pooled sessions.
func (m *Manager) Idle() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, list := range m.idle {
		n += len(list)
	}
	return n
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for key, list := range m.idle {
		for _, s := range list {
			m.closeLocked(s)
		}
		delete(m.idle, key)
	}
	return nil
}
