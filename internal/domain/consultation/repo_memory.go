package consultation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-process Repository for tests.
type MemoryRepo struct {
	mu        sync.Mutex
	responses []*Response
	nextID    int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (m *MemoryRepo) Create(_ context.Context, r *Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.responses = append(m.responses, &cp)
	return nil
}

func (m *MemoryRepo) ListForProblem(_ context.Context, problemID int64) ([]*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Response{}
	for _, r := range m.responses {
		if r.ProblemID == problemID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryRepo) CountByProblem(_ context.Context, problemID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.responses {
		if r.ProblemID == problemID {
			n++
		}
	}
	return n, nil
}
