package notification

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-process Repository for tests and local development.
type MemoryRepo struct {
	mu     sync.Mutex
	items  []*Notification
	nextID int64
	// FailCreate makes Create return an error, for exercising best-effort
	// delivery.
	FailCreate bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (m *MemoryRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate {
		return errors.New("insert notification: connection reset")
	}
	m.nextID++
	n.ID = m.nextID
	n.IsRead = false
	n.CreatedAt = time.Now()
	cp := *n
	m.items = append(m.items, &cp)
	return nil
}

func (m *MemoryRepo) MarkRead(_ context.Context, id, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.items {
		if n.ID == id && n.UserID == userID {
			if !n.IsRead {
				now := time.Now()
				n.IsRead = true
				n.ReadAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepo) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	now := time.Now()
	for _, n := range m.items {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &now
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepo) ListUnread(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	unread := false
	items, _, err := m.List(ctx, userID, Filter{Read: &unread, Limit: limit})
	return items, err
}

func (m *MemoryRepo) CountUnread(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.items {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepo) List(_ context.Context, userID int64, f Filter) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kw := strings.ToLower(strings.TrimSpace(f.Keyword))
	var matched []*Notification
	for _, n := range m.items {
		if n.UserID != userID {
			continue
		}
		if f.Type != "" && n.Type != f.Type {
			continue
		}
		if f.Read != nil && n.IsRead != *f.Read {
			continue
		}
		if kw != "" && !strings.Contains(strings.ToLower(n.Title), kw) && !strings.Contains(strings.ToLower(n.Message), kw) {
			continue
		}
		cp := *n
		matched = append(matched, &cp)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Priority != b.Priority {
			return a.Priority.rank() > b.Priority.rank()
		}
		return a.ID > b.ID
	})

	total := len(matched)
	if f.Offset >= total {
		return []*Notification{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (m *MemoryRepo) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	var deleted int64
	for _, n := range m.items {
		if n.IsRead && n.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	m.items = kept
	return deleted, nil
}

// SetCreatedAt backdates a stored notification.
func (m *MemoryRepo) SetCreatedAt(id int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.items {
		if n.ID == id {
			n.CreatedAt = at
		}
	}
}

// ForUser returns every notification addressed to userID in insertion order.
func (m *MemoryRepo) ForUser(userID int64) []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out
}
