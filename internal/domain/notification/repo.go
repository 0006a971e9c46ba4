package notification

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	// MarkRead reports whether a notification owned by userID exists. An
	// already read notification keeps its original read_at.
	MarkRead(ctx context.Context, id, userID int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	ListUnread(ctx context.Context, userID int64, limit int) ([]*Notification, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
	List(ctx context.Context, userID int64, f Filter) ([]*Notification, int, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
