package assessments

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/defiintel/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	bySubject map[string][]*Assessment
	byID      map[string]*Assessment
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bySubject: make(map[string][]*Assessment),
		byID:      make(map[string]*Assessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, a *Assessment) error {
	c := a.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySubject[c.Subject] = append(s.bySubject[c.Subject], c)
	s.byID[c.ID] = c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (s *MemoryStore) ListBySubject(ctx context.Context, subject string, limit int, after *pagination.Cursor) ([]*Assessment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.bySubject[subject]
	if len(all) == 0 {
		return nil, nil
	}

	sorted := make([]*Assessment, len(all))
	copy(sorted, all)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].EvaluatedAt.Equal(sorted[j].EvaluatedAt) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].EvaluatedAt.After(sorted[j].EvaluatedAt)
	})

	var result []*Assessment
	for _, a := range sorted {
		if !after.After(a.EvaluatedAt, a.ID) {
			continue
		}
		result = append(result, a.clone())
		if len(result) == limit {
			break
		}
	}
	return result, nil
}
