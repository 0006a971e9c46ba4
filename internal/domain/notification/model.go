package notification

import "time"

// Type is the visual category of a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	return p.rank() > 0
}

func (p Priority) rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// Notification maps to the notifications table.
type Notification struct {
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	ProblemID *int64     `db:"problem_id" json:"problem_id,omitempty"`
	Title     string     `db:"title" json:"title"`
	Message   string     `db:"message" json:"message"`
	Type      Type       `db:"type" json:"type"`
	Priority  Priority   `db:"priority" json:"priority"`
	IsRead    bool       `db:"is_read" json:"is_read"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// Filter narrows a user's notification list. Read nil means both read and
// unread.
type Filter struct {
	Type    Type
	Read    *bool
	Keyword string
	Limit   int
	Offset  int
}
