package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/shelf-crawler/internal/models"
)

const EventDetailScraped = "PRODUCT_DETAIL_SCRAPED"

// DatasetSink appends records to dataset_records. Detail records also get an
// outbox event in the same transaction.
type DatasetSink struct {
	db     *DB
	outbox *OutboxRepository
	stream string
}

func NewDatasetSink(db *DB, stream string) *DatasetSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &DatasetSink{db: db, outbox: NewOutboxRepository(db), stream: stream}
}

func (s *DatasetSink) Append(ctx context.Context, dataset string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"INSERT INTO dataset_records (dataset, url, payload) VALUES ($1, $2, $3)",
			dataset, recordURL(record), payload)
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}

		rec, ok := record.(*models.DetailRecord)
		if !ok {
			return nil
		}
		event := detailEvent(dataset, rec, payload)
		event.TargetStream = s.stream
		return s.outbox.InsertWithTx(ctx, tx, event)
	})
}

// Records returns the payloads of dataset in insertion order.
func (s *DatasetSink) Records(ctx context.Context, dataset string) ([]json.RawMessage, error) {
	rows, err := s.db.pool.Query(ctx,
		"SELECT payload FROM dataset_records WHERE dataset = $1 ORDER BY id", dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset %s: %w", dataset, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload json.RawMessage
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

// detailEvent announces a scraped product. The aggregate id is the product
// url; the job is carried as the aggregate type suffix, e.g. "product:job-1".
func detailEvent(dataset string, rec *models.DetailRecord, payload json.RawMessage) *OutboxEvent {
	aggregate := "product"
	if job, ok := strings.CutPrefix(dataset, "details_"); ok {
		aggregate += ":" + job
	}
	return &OutboxEvent{
		AggregateType: aggregate,
		AggregateID:   rec.URL,
		EventType:     EventDetailScraped,
		Payload:       payload,
	}
}

func recordURL(record any) string {
	switch r := record.(type) {
	case *models.DetailRecord:
		return r.URL
	case *models.ListingCard:
		return r.URL
	}
	return ""
}
