package audit

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

type auditRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *auditRepoPG) Append(ctx context.Context, e *Entry) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO problem_updates (problem_id, updated_by, update_type, old_value, new_value, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		e.ProblemID, e.UpdatedBy, e.UpdateType, e.OldValue, e.NewValue, e.Notes,
	).Scan(&e.ID, &e.CreatedAt)
}

func (r *auditRepoPG) ListForProblem(ctx context.Context, problemID int64) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT pu.id, pu.problem_id, pu.updated_by, u.name, pu.update_type,
		       pu.old_value, pu.new_value, pu.notes, pu.created_at
		FROM problem_updates pu
		JOIN users u ON u.id = pu.updated_by
		WHERE pu.problem_id = $1
		ORDER BY pu.created_at DESC, pu.id DESC`, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.ProblemID, &e.UpdatedBy, &e.UpdatedByName, &e.UpdateType,
			&e.OldValue, &e.NewValue, &e.Notes, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
