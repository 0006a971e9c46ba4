package problem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-process Repository for tests. Names maps villager IDs
// to the display name returned on reads.
type MemoryRepo struct {
	mu       sync.Mutex
	problems map[int64]*Problem
	nextID   int64
	Names    map[int64]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{problems: make(map[int64]*Problem), Names: make(map[int64]string)}
}

func (m *MemoryRepo) copyOf(pr *Problem) *Problem {
	cp := *pr
	cp.VillagerName = m.Names[pr.VillagerID]
	return &cp
}

func (m *MemoryRepo) Create(_ context.Context, pr *Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	pr.ID = m.nextID
	pr.CreatedAt = time.Now()
	pr.UpdatedAt = pr.CreatedAt
	cp := *pr
	m.problems[pr.ID] = &cp
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id int64) (*Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.problems[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyOf(pr), nil
}

func (m *MemoryRepo) GetForUpdate(ctx context.Context, id int64) (*Problem, error) {
	return m.GetByID(ctx, id)
}

func (m *MemoryRepo) Assign(_ context.Context, id, officerID int64) (*Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.problems[id]
	if !ok {
		return nil, ErrNotFound
	}
	if pr.AssignedTo != nil || pr.Status.IsTerminal() {
		return nil, ErrAlreadyAssigned
	}
	pr.AssignedTo = &officerID
	if pr.Status == StatusPending {
		pr.Status = StatusAssigned
	}
	pr.UpdatedAt = time.Now()
	return m.copyOf(pr), nil
}

func (m *MemoryRepo) SaveStatus(_ context.Context, pr *Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.problems[pr.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = pr.Status
	existing.ResolvedAt = pr.ResolvedAt
	existing.EscalatedTo = pr.EscalatedTo
	existing.EscalationDate = pr.EscalationDate
	existing.UpdatedAt = time.Now()
	pr.UpdatedAt = existing.UpdatedAt
	return nil
}

func (m *MemoryRepo) TouchResponse(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.problems[id]
	if !ok {
		return ErrNotFound
	}
	pr.LastResponseDate = &at
	pr.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepo) matching(scope Scope, f ListFilter) []*Problem {
	kw := strings.ToLower(strings.TrimSpace(f.Keyword))
	var out []*Problem
	for _, pr := range m.problems {
		if !scope.Matches(pr) {
			continue
		}
		if f.Status != "" && pr.Status != f.Status {
			continue
		}
		if f.Priority != "" && pr.Priority != f.Priority {
			continue
		}
		if f.Category != "" && pr.Category != f.Category {
			continue
		}
		if kw != "" &&
			!strings.Contains(strings.ToLower(pr.Title), kw) &&
			!strings.Contains(strings.ToLower(pr.Description), kw) &&
			!strings.Contains(strings.ToLower(pr.Location), kw) {
			continue
		}
		out = append(out, m.copyOf(pr))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *MemoryRepo) List(_ context.Context, scope Scope, f ListFilter) ([]*Problem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := m.matching(scope, f)
	total := len(matched)
	if f.Offset >= total {
		return []*Problem{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (m *MemoryRepo) CountByStatus(_ context.Context, scope Scope) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Status]int)
	for _, pr := range m.problems {
		if scope.Matches(pr) {
			counts[pr.Status]++
		}
	}
	return counts, nil
}

func (m *MemoryRepo) FindByPhoto(_ context.Context, ref string) (*Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Problem
	for _, pr := range m.problems {
		if pr.Photo != nil && *pr.Photo == ref && (found == nil || pr.ID < found.ID) {
			found = pr
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return m.copyOf(found), nil
}
