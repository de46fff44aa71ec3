package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is returned by every job store for an unknown id.
var ErrJobNotFound = errors.New("job not found")

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job identifies one crawl run.
type Job struct {
	ID             string     `json:"id"`
	Retailer       string     `json:"retailer"`
	StartURLs      []string   `json:"start_urls"`
	Status         JobStatus  `json:"status"`
	ListingPages   int        `json:"listing_pages"`
	DetailsFound   int        `json:"details_found"`
	RecordsWritten int        `json:"records_written"`
	Failures       int        `json:"failures"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

type Kind string

const (
	KindListing Kind = "LISTING"
	KindDetail  Kind = "DETAIL"
)

type State string

const (
	StatePending        State = "PENDING"
	StateInProgress     State = "IN_PROGRESS"
	StateRetryScheduled State = "RETRY_SCHEDULED"
	StateSucceeded      State = "SUCCEEDED"
	StateFailedTerminal State = "FAILED_TERMINAL"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailedTerminal
}

type UserData struct {
	JobID           string    `json:"jobId"`
	PopularityIndex int       `json:"popularityIndex,omitempty"`
	Label           string    `json:"label,omitempty"`
	CategoryURL     string    `json:"categoryUrl,omitempty"`
	PageNumber      int       `json:"pageNumber,omitempty"`
	DiscoveredAt    time.Time `json:"discoveredAt"`
}

// WorkUnit is one URL queued for crawling.
type WorkUnit struct {
	URL        string   `json:"url"`
	Kind       Kind     `json:"kind"`
	UserData   UserData `json:"userData"`
	RetryCount int      `json:"retryCount"`
	State      State    `json:"state"`
}

func NewListingUnit(url, jobID string, pageNumber int) *WorkUnit {
	return &WorkUnit{
		URL:  url,
		Kind: KindListing,
		UserData: UserData{
			JobID:        jobID,
			Label:        string(KindListing),
			CategoryURL:  url,
			PageNumber:   pageNumber,
			DiscoveredAt: time.Now(),
		},
		State: StatePending,
	}
}

func NewDetailUnit(card *ListingCard, jobID string) *WorkUnit {
	return &WorkUnit{
		URL:  card.URL,
		Kind: KindDetail,
		UserData: UserData{
			JobID:           jobID,
			PopularityIndex: card.PopularityIndex,
			Label:           string(KindDetail),
			CategoryURL:     card.CategoryURL,
			DiscoveredAt:    time.Now(),
		},
		State: StatePending,
	}
}

// Transition moves the unit to next, rejecting moves the state machine forbids.
func (w *WorkUnit) Transition(next State) error {
	allowed := false
	switch w.State {
	case StatePending:
		allowed = next == StateInProgress || next == StateFailedTerminal
	case StateInProgress:
		allowed = next == StateSucceeded || next == StateRetryScheduled || next == StateFailedTerminal
	case StateRetryScheduled:
		allowed = next == StatePending
	}
	if !allowed {
		return fmt.Errorf("invalid work unit transition %s -> %s", w.State, next)
	}
	w.State = next
	return nil
}

func DetailsDataset(jobID string) string {
	return "details_" + jobID
}

func ListingDataset(jobID string) string {
	return "listing_" + jobID
}
