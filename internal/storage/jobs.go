package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/maltedev/shelf-crawler/internal/models"
)

var ErrJobNotFound = models.ErrJobNotFound

// JobFile keeps crawl jobs in a JSON file, rewritten atomically on every
// save. It backs the CLI when no database is configured.
type JobFile struct {
	mu       sync.RWMutex
	jobs     map[string]*models.Job
	filename string
}

func NewJobFile(filename string) (*JobFile, error) {
	f := &JobFile{
		jobs:     make(map[string]*models.Job),
		filename: filename,
	}
	if err := f.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load jobs from %s: %w", filename, err)
	}
	return f, nil
}

func (f *JobFile) Save(_ context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *job
	f.jobs[job.ID] = &cp
	return f.save()
}

func (f *JobFile) Get(_ context.Context, id string) (*models.Job, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	cp := *job
	return &cp, nil
}

// List returns all jobs, newest first.
func (f *JobFile) List(context.Context) ([]*models.Job, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]*models.Job, 0, len(f.jobs))
	for _, job := range f.jobs {
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *JobFile) save() error {
	data, err := json.MarshalIndent(f.jobs, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(f.filename, data)
}

func (f *JobFile) load() error {
	data, err := os.ReadFile(f.filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &f.jobs)
}
