package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/shelf-crawler/internal/models"
)

var ErrJobNotFound = models.ErrJobNotFound

// JobRepository persists crawl jobs and their counters.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Save upserts job.
func (r *JobRepository) Save(ctx context.Context, job *models.Job) error {
	startURLs, err := json.Marshal(job.StartURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal start urls: %w", err)
	}

	query := `
		INSERT INTO crawl_jobs (
			id, retailer, start_urls, status, listing_pages, details_found,
			records_written, failures, error, created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			listing_pages = EXCLUDED.listing_pages,
			details_found = EXCLUDED.details_found,
			records_written = EXCLUDED.records_written,
			failures = EXCLUDED.failures,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`

	_, err = r.db.pool.Exec(ctx, query,
		job.ID, job.Retailer, startURLs, job.Status, job.ListingPages, job.DetailsFound,
		job.RecordsWritten, job.Failures, job.Error, job.CreatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `
	id, retailer, start_urls, status, listing_pages, details_found,
	records_written, failures, error, created_at, started_at, completed_at`

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// List returns all jobs, newest first.
func (r *JobRepository) List(ctx context.Context) ([]*models.Job, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT `+jobColumns+` FROM crawl_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	job := &models.Job{}
	var startURLs []byte
	err := row.Scan(
		&job.ID, &job.Retailer, &startURLs, &job.Status, &job.ListingPages, &job.DetailsFound,
		&job.RecordsWritten, &job.Failures, &job.Error, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(startURLs, &job.StartURLs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal start urls: %w", err)
	}
	return job, nil
}
