package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// RunStore keeps run summaries in memory for development and tests.
type RunStore struct {
	mu    sync.RWMutex
	order []string
	runs  map[string]crawler.RunRecord
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]crawler.RunRecord)}
}

// RecordRun stores a run summary. Run IDs are unique.
func (s *RunStore) RecordRun(_ context.Context, record crawler.RunRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[record.ID]; exists {
		return errors.New("run already recorded")
	}
	record.Seeds = append([]string(nil), record.Seeds...)
	s.runs[record.ID] = record
	s.order = append(s.order, record.ID)
	return nil
}

// Run fetches a run summary by ID.
func (s *RunStore) Run(id string) (crawler.RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	return rec, ok
}

// Runs returns all summaries in recording order.
func (s *RunStore) Runs() []crawler.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.RunRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id])
	}
	return out
}
