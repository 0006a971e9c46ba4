package consultation

import "context"

type Repository interface {
	Create(ctx context.Context, r *Response) error
	// ListForProblem returns responses newest first.
	ListForProblem(ctx context.Context, problemID int64) ([]*Response, error)
	CountByProblem(ctx context.Context, problemID int64) (int, error)
}
