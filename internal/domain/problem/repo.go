package problem

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("problem not found")
	ErrAlreadyAssigned = errors.New("problem already assigned")
)

type Repository interface {
	Create(ctx context.Context, pr *Problem) error
	GetByID(ctx context.Context, id int64) (*Problem, error)
	// GetForUpdate loads the row and, inside a transaction, locks it until
	// commit.
	GetForUpdate(ctx context.Context, id int64) (*Problem, error)
	// Assign sets assigned_to only while it is NULL and the case is open.
	// It returns ErrAlreadyAssigned when the guard fails.
	Assign(ctx context.Context, id, officerID int64) (*Problem, error)
	// SaveStatus writes status, resolved_at, escalated_to and
	// escalation_date from pr and bumps updated_at.
	SaveStatus(ctx context.Context, pr *Problem) error
	TouchResponse(ctx context.Context, id int64, at time.Time) error
	List(ctx context.Context, scope Scope, f ListFilter) ([]*Problem, int, error)
	CountByStatus(ctx context.Context, scope Scope) (map[Status]int, error)
	FindByPhoto(ctx context.Context, ref string) (*Problem, error)
}
