package user

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-process Repository for tests and local development.
type MemoryRepo struct {
	mu     sync.Mutex
	users  map[int64]*User
	nextID int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{users: make(map[int64]*User)}
}

func (m *MemoryRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) sorted() []*User {
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kw := strings.ToLower(strings.TrimSpace(f.Keyword))
	var matched []*User
	for _, u := range m.sorted() {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.Village != "" && u.Village != f.Village {
			continue
		}
		if kw != "" && !strings.Contains(strings.ToLower(u.Name), kw) && !strings.Contains(u.Email, kw) {
			continue
		}
		matched = append(matched, u)
	}
	total := len(matched)
	if offset >= total {
		return []*User{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (m *MemoryRepo) ListActive(_ context.Context, role, village string) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*User{}
	for _, u := range m.sorted() {
		if u.Role == role && u.Status == StatusActive && (village == "" || u.Village == village) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MemoryRepo) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = u.Name
	existing.Phone = u.Phone
	existing.Village = u.Village
	existing.Profile = u.Profile
	existing.UpdatedAt = time.Now()
	u.UpdatedAt = existing.UpdatedAt
	return nil
}

func (m *MemoryRepo) SetStatus(_ context.Context, id int64, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now()
	return nil
}
