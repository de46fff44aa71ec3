package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/maltedev/shelf-crawler/internal/models"
	"github.com/maltedev/shelf-crawler/internal/queue"
)

// Failure is a unit that reached FAILED_TERMINAL.
type Failure struct {
	URL      string    `json:"url"`
	JobID    string    `json:"job_id"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts"`
}

// Batch is the best-effort result of ScrapeDetails. Skipped holds units that
// were never attempted because the job was cancelled. Duplicates counts units
// dropped because their canonical URL was already scraped for the job.
type Batch struct {
	Records    []*models.DetailRecord
	Failures   []Failure
	Skipped    []*models.WorkUnit
	Suppressed int
	Duplicates int
}

// ScrapeDetails fetches every detail unit with a bounded worker pool. A
// failing unit never aborts the batch. Cancelling ctx stops new units from
// starting; units already in flight run to completion.
func (o *Orchestrator) ScrapeDetails(ctx context.Context, units []*models.WorkUnit, opts Options) (*Batch, error) {
	opts = opts.withDefaults()
	batch := &Batch{}
	if len(units) == 0 {
		return batch, nil
	}

	q := queue.NewInMemoryQueue()
	queued := 0
	for _, u := range units {
		// Unparseable urls still go through so they fail like any other unit.
		if ok, err := o.scrapedFor(u.UserData.JobID).Admit(ctx, u.URL); err == nil && !ok {
			batch.Duplicates++
			o.logger.Debug("duplicate detail unit dropped", "job_id", u.UserData.JobID, "url", u.URL)
			continue
		}
		u.Kind = models.KindDetail
		u.State = models.StatePending
		if err := q.Push(u); err != nil {
			return batch, fmt.Errorf("failed to enqueue %s: %w", u.URL, err)
		}
		queued++
	}
	if queued == 0 {
		return batch, nil
	}

	var mu sync.Mutex
	remaining := queued
	settle := func() {
		mu.Lock()
		defer mu.Unlock()
		remaining--
		if remaining == 0 {
			q.Close()
		}
	}

	workers := opts.Concurrency
	if workers > queued {
		workers = queued
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				unit, err := q.Pop(ctx)
				if err != nil {
					return
				}
				if ctx.Err() != nil {
					mu.Lock()
					batch.Skipped = append(batch.Skipped, unit)
					mu.Unlock()
					continue
				}

				rec, failure, suppressed := o.attemptDetail(context.WithoutCancel(ctx), unit, opts)

				switch {
				case unit.State == models.StatePending:
					if err := q.Push(unit); err != nil {
						mu.Lock()
						batch.Skipped = append(batch.Skipped, unit)
						mu.Unlock()
						settle()
					}
					continue
				case rec != nil:
					mu.Lock()
					batch.Records = append(batch.Records, rec)
					mu.Unlock()
				case failure != nil:
					mu.Lock()
					batch.Failures = append(batch.Failures, *failure)
					mu.Unlock()
				case suppressed:
					mu.Lock()
					batch.Suppressed++
					mu.Unlock()
				}
				settle()
			}
		}()
	}
	wg.Wait()

	batch.Skipped = append(batch.Skipped, q.Drain()...)

	o.logger.Info("detail batch finished",
		"records", len(batch.Records),
		"failures", len(batch.Failures),
		"skipped", len(batch.Skipped),
		"suppressed", batch.Suppressed,
		"duplicates", batch.Duplicates)

	return batch, ctx.Err()
}

// attemptDetail runs one attempt of unit. On return the unit is PENDING
// (retry scheduled), SUCCEEDED or FAILED_TERMINAL.
func (o *Orchestrator) attemptDetail(ctx context.Context, unit *models.WorkUnit, opts Options) (*models.DetailRecord, *Failure, bool) {
	jobID := unit.UserData.JobID

	s, err := o.siteFor(unit.URL, opts.Retailer)
	if err != nil {
		_ = unit.Transition(models.StateFailedTerminal)
		o.metrics.IncUnit(string(unit.Kind), string(unit.State))
		o.logger.Error("work unit failed", "job_id", jobID, "url", unit.URL, "kind", KindUnknown, "error", err)
		return nil, &Failure{URL: unit.URL, JobID: jobID, Kind: KindUnknown, Message: err.Error()}, false
	}

	_ = unit.Transition(models.StateInProgress)

	var record *models.DetailRecord
	res := o.visit(ctx, s, s.detail, unit, opts, unit.RetryCount+1 >= opts.MaxRetries,
		func(ctx context.Context, page Page, _ PageState) error {
			if sel := s.def.ProductPageSelector; sel != "" {
				if err := page.WaitFor(ctx, sel, opts.WaitTimeout); err != nil {
					return fmt.Errorf("%w: %s: %v", ErrElementNotFound, sel, err)
				}
			}

			rec, err := s.def.Strategy.ExtractDetail(ctx, page)
			if err != nil {
				return err
			}
			if rec == nil {
				return IllFormatted(unit.URL, "strategy returned no record")
			}

			o.enrich(rec, s, unit)
			if problems := rec.Validate(); len(problems) > 0 {
				return IllFormatted(unit.URL, "invalid record: %s", strings.Join(problems, "; "))
			}
			record = rec
			return nil
		})

	if res.err == nil {
		_ = unit.Transition(models.StateSucceeded)
		o.metrics.IncUnit(string(unit.Kind), string(unit.State))
		o.appendDetail(ctx, jobID, record)
		return record, nil, false
	}

	if res.suppressed {
		_ = unit.Transition(models.StateSucceeded)
		o.metrics.IncUnit(string(unit.Kind), "SUPPRESSED")
		return nil, nil, true
	}

	if retry(unit, res.err, opts.MaxRetries) {
		o.logger.Info("retry scheduled",
			"job_id", jobID,
			"url", unit.URL,
			"kind", res.err.Kind,
			"attempt", unit.RetryCount,
			"max_retries", opts.MaxRetries)
		return nil, nil, false
	}

	o.metrics.IncUnit(string(unit.Kind), string(unit.State))
	o.logger.Error("work unit failed",
		"job_id", jobID,
		"url", unit.URL,
		"kind", res.err.Kind,
		"error", res.err.Error(),
		"attempts", unit.RetryCount)

	return nil, &Failure{
		URL:      unit.URL,
		JobID:    jobID,
		Kind:     res.err.Kind,
		Message:  res.err.Error(),
		Attempts: unit.RetryCount,
	}, false
}

func (o *Orchestrator) enrich(rec *models.DetailRecord, s *site, unit *models.WorkUnit) {
	if rec.URL == "" {
		rec.URL = unit.URL
	}
	if rec.PopularityIndex == 0 {
		rec.PopularityIndex = unit.UserData.PopularityIndex
	}
	if rec.CategoryURL == "" {
		rec.CategoryURL = unit.UserData.CategoryURL
	}
	rec.RetailerDomain = s.def.Domain
	rec.FetchedAt = o.now()
}

func (o *Orchestrator) appendDetail(ctx context.Context, jobID string, rec *models.DetailRecord) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Append(ctx, models.DetailsDataset(jobID), rec); err != nil {
		o.logger.Error("failed to append detail record", "job_id", jobID, "url", rec.URL, "error", err)
		return
	}
	o.metrics.IncRecord("details")
}
