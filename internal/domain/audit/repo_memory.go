package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-process Repository for tests and local development.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []*Entry
	nextID  int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (m *MemoryRepo) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	e.CreatedAt = time.Now()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryRepo) ListForProblem(_ context.Context, problemID int64) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Entry{}
	for _, e := range m.entries {
		if e.ProblemID == problemID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
