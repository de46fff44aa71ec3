// Package sink holds the append-only dataset stores records are written to.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory keeps datasets in process. Records are stored as JSON so callers
// cannot mutate them after Append.
type Memory struct {
	mu       sync.Mutex
	datasets map[string][]json.RawMessage
}

func NewMemory() *Memory {
	return &Memory{datasets: make(map[string][]json.RawMessage)}
}

func (m *Memory) Append(_ context.Context, dataset string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[dataset] = append(m.datasets[dataset], data)
	return nil
}

func (m *Memory) Records(_ context.Context, dataset string) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.datasets[dataset]...), nil
}

func (m *Memory) Close() error { return nil }
