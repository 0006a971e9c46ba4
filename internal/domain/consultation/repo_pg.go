package consultation

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/villagecare/villagecare/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type responseRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &responseRepoPG{pool: pool}
}

func (r *responseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *responseRepoPG) Create(ctx context.Context, resp *Response) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_responses (problem_id, doctor_id, response, recommendations, follow_up_required, urgency_level)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		resp.ProblemID, resp.DoctorID, resp.Response, resp.Recommendations, resp.FollowUpRequired, resp.UrgencyLevel,
	).Scan(&resp.ID, &resp.CreatedAt, &resp.UpdatedAt)
}

func (r *responseRepoPG) ListForProblem(ctx context.Context, problemID int64) ([]*Response, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT mr.id, mr.problem_id, mr.doctor_id, COALESCE(d.name, ''), mr.response, mr.recommendations,
		       mr.follow_up_required, mr.urgency_level, mr.created_at, mr.updated_at
		FROM medical_responses mr
		LEFT JOIN users d ON d.id = mr.doctor_id
		WHERE mr.problem_id = $1
		ORDER BY mr.created_at DESC, mr.id DESC`, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Response{}
	for rows.Next() {
		var resp Response
		if err := rows.Scan(
			&resp.ID, &resp.ProblemID, &resp.DoctorID, &resp.DoctorName, &resp.Response, &resp.Recommendations,
			&resp.FollowUpRequired, &resp.UrgencyLevel, &resp.CreatedAt, &resp.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &resp)
	}
	return out, rows.Err()
}

func (r *responseRepoPG) CountByProblem(ctx context.Context, problemID int64) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medical_responses WHERE problem_id = $1`, problemID).Scan(&n)
	return n, err
}
