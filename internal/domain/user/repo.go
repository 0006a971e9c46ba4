package user

import (
	"context"
	"errors"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error)
	// ListActive returns active users with role. An empty village matches
	// every village.
	ListActive(ctx context.Context, role, village string) ([]*User, error)
	Update(ctx context.Context, u *User) error
	SetStatus(ctx context.Context, id int64, status Status) error
}
