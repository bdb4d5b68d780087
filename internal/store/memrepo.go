package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/honey991127/char-knowledge/internal/memory"
)

// MemoryRepository keeps records in process memory. It backs tests and
// hosts that persist conversation metadata through their own channel.
// Records round-trip through the JSON codec on Save so callers cannot
// alias the stored copy.
type MemoryRepository struct {
	records map[string][]byte
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{records: make(map[string][]byte)}
}

// Load returns the stored record or a fresh default one.
func (m *MemoryRepository) Load(_ context.Context, conversationID string) (*memory.Record, error) {
	data, ok := m.records[conversationID]
	if !ok {
		return memory.NewRecord(), nil
	}
	rec := memory.NewRecord()
	if err := rec.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decoding record for %s: %w", conversationID, err)
	}
	return rec, nil
}

// Save stores a snapshot of the record.
func (m *MemoryRepository) Save(_ context.Context, conversationID string, rec *memory.Record) error {
	var buf bytes.Buffer
	if err := rec.Export(&buf); err != nil {
		return fmt.Errorf("encoding record for %s: %w", conversationID, err)
	}
	m.records[conversationID] = buf.Bytes()
	return nil
}

// Delete drops the stored record.
func (m *MemoryRepository) Delete(_ context.Context, conversationID string) error {
	delete(m.records, conversationID)
	return nil
}

// Close implements Repository.
func (m *MemoryRepository) Close() error { return nil }

// Len reports how many conversations have been saved.
func (m *MemoryRepository) Len() int { return len(m.records) }
