package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process. Records are copied in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save inserts or replaces a record
func (s *MemoryStore) Save(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return storeFailure("save", errMissingID)
	}
	cp := *record
	cp.OrderFile = clipName(cp.OrderFile)
	cp.PaymentFile = clipName(cp.PaymentFile)
	s.mu.Lock()
	s.records[record.ID] = &cp
	s.mu.Unlock()
	return nil
}

// Get returns a copy of one record
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *r
	return &cp, nil
}

// List returns one page of records, newest first, plus the total count
func (s *MemoryStore) List(ctx context.Context, page Page) ([]*Record, int, error) {
	if err := page.Validate(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	all := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		cp := *r
		all = append(all, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := page.Offset()
	if start >= total {
		return []*Record{}, total, nil
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
