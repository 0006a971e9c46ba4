package audit

import "context"

// Repository persists audit entries. It has no update or delete.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	ListForProblem(ctx context.Context, problemID int64) ([]*Entry, error)
}
