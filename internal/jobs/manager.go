// Package jobs runs crawl jobs in the background and tracks their progress.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/shelf-crawler/internal/crawler"
	"github.com/maltedev/shelf-crawler/internal/models"
)

var (
	ErrNoStartURLs = errors.New("at least one start url is required")
	ErrJobNotFound = models.ErrJobNotFound
)

// Crawler is the part of the orchestrator a job drives.
type Crawler interface {
	ExploreCategory(ctx context.Context, categoryURL, jobID string, opts crawler.Options) ([]*models.WorkUnit, error)
	ScrapeDetails(ctx context.Context, units []*models.WorkUnit, opts crawler.Options) (*crawler.Batch, error)
	FinishJob(ctx context.Context, jobID string) error
}

type Store interface {
	Save(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
}

type Manager struct {
	crawler Crawler
	store   Store
	opts    crawler.Options
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(c Crawler, store Store, opts crawler.Options, logger *slog.Logger) *Manager {
	return &Manager{
		crawler: c,
		store:   store,
		opts:    opts,
		logger:  logger.With("component", "job_manager"),
		now:     time.Now,
		running: make(map[string]context.CancelFunc),
	}
}

// Create stores a pending job. It does not start it.
func (m *Manager) Create(ctx context.Context, startURLs []string) (*models.Job, error) {
	if len(startURLs) == 0 {
		return nil, ErrNoStartURLs
	}
	retailer, err := crawler.DomainOf(startURLs[0])
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:        uuid.New().String(),
		Retailer:  retailer,
		StartURLs: startURLs,
		Status:    models.JobStatusPending,
		CreatedAt: m.now(),
	}
	if err := m.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info("job created", "job_id", job.ID, "retailer", retailer, "start_urls", len(startURLs))
	return job, nil
}

// Start runs a copy of job in the background. The run outlives the caller's
// request; Stop or Shutdown cancels it.
func (m *Manager) Start(job *models.Job) {
	job = cloneJob(job)
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.running[job.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, job.ID)
			m.mu.Unlock()
			cancel()
		}()
		if err := m.Run(ctx, job); err != nil {
			m.logger.Error("job failed", "job_id", job.ID, "error", err)
		}
	}()
}

// Run executes job synchronously: explore every start url, then scrape the
// admitted details. The job is saved after each phase.
func (m *Manager) Run(ctx context.Context, job *models.Job) error {
	started := m.now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &started
	m.save(ctx, job)

	defer func() {
		if err := m.crawler.FinishJob(context.WithoutCancel(ctx), job.ID); err != nil {
			m.logger.Warn("failed to reset visited set", "job_id", job.ID, "error", err)
		}
	}()

	var units []*models.WorkUnit
	var exploreErrs []error
	for _, startURL := range job.StartURLs {
		found, err := m.crawler.ExploreCategory(ctx, startURL, job.ID, m.opts)
		if err != nil {
			m.logger.Warn("category failed", "job_id", job.ID, "url", startURL, "kind", crawler.KindOf(err), "error", err)
			exploreErrs = append(exploreErrs, err)
			job.Failures++
			continue
		}
		job.ListingPages += listingPages(found)
		units = append(units, found...)
	}
	job.DetailsFound = len(units)
	m.save(ctx, job)

	if len(units) == 0 && len(exploreErrs) > 0 {
		return m.finish(ctx, job, errors.Join(exploreErrs...))
	}

	batch, err := m.crawler.ScrapeDetails(ctx, units, m.opts)
	if batch != nil {
		job.RecordsWritten = len(batch.Records)
		job.Failures += len(batch.Failures)
	}
	return m.finish(ctx, job, err)
}

func (m *Manager) finish(ctx context.Context, job *models.Job, err error) error {
	completed := m.now()
	job.CompletedAt = &completed
	job.Status = models.JobStatusCompleted
	if err != nil {
		job.Status = models.JobStatusFailed
		job.Error = err.Error()
	}
	m.save(context.WithoutCancel(ctx), job)

	m.logger.Info("job finished",
		"job_id", job.ID,
		"status", job.Status,
		"details_found", job.DetailsFound,
		"records_written", job.RecordsWritten,
		"failures", job.Failures,
		"duration", completed.Sub(*job.StartedAt))
	return err
}

func (m *Manager) save(ctx context.Context, job *models.Job) {
	if err := m.store.Save(ctx, job); err != nil {
		m.logger.Error("failed to save job", "job_id", job.ID, "error", err)
	}
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	return m.store.Get(ctx, id)
}

// List returns all jobs, newest first.
func (m *Manager) List(ctx context.Context) ([]*models.Job, error) {
	return m.store.List(ctx)
}

// Stats summarises every stored job.
type Stats struct {
	TotalJobs      int     `json:"total_jobs"`
	PendingJobs    int     `json:"pending_jobs"`
	RunningJobs    int     `json:"running_jobs"`
	CompletedJobs  int     `json:"completed_jobs"`
	FailedJobs     int     `json:"failed_jobs"`
	DetailsFound   int     `json:"details_found"`
	RecordsWritten int     `json:"records_written"`
	SuccessRate    float64 `json:"success_rate"`
}

func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	stats := &Stats{TotalJobs: len(all)}
	for _, job := range all {
		switch job.Status {
		case models.JobStatusPending:
			stats.PendingJobs++
		case models.JobStatusRunning:
			stats.RunningJobs++
		case models.JobStatusCompleted:
			stats.CompletedJobs++
		case models.JobStatusFailed:
			stats.FailedJobs++
		}
		stats.DetailsFound += job.DetailsFound
		stats.RecordsWritten += job.RecordsWritten
	}
	if stats.DetailsFound > 0 {
		stats.SuccessRate = float64(stats.RecordsWritten) / float64(stats.DetailsFound)
	}
	return stats, nil
}

// Stop cancels a running job. Units already in flight still finish.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	cancel, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every running job and waits for them or ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// listingPages counts the distinct listing pages units were found on.
func listingPages(units []*models.WorkUnit) int {
	pages := make(map[int]bool)
	for _, u := range units {
		pages[u.UserData.PageNumber] = true
	}
	return len(pages)
}

func cloneJob(job *models.Job) *models.Job {
	cp := *job
	cp.StartURLs = append([]string(nil), job.StartURLs...)
	return &cp
}

// MemoryStore keeps jobs in process.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStore) Save(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) List(context.Context) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return cloneJob(job), nil
}
