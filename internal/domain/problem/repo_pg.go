package problem

import (
	"context"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/villagecare/villagecare/internal/platform/auth"
	"github.com/villagecare/villagecare/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const problemColumns = `p.id, p.villager_id, COALESCE(v.name, ''), p.assigned_to, p.escalated_to,
	p.title, p.description, p.category, p.priority, p.status, p.photo, p.location,
	p.created_at, p.updated_at, p.resolved_at, p.escalation_date, p.last_response_date`

const problemFrom = `problems p LEFT JOIN users v ON v.id = p.villager_id`

type problemRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &problemRepoPG{pool: pool}
}

func (r *problemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *problemRepoPG) Create(ctx context.Context, pr *Problem) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO problems (villager_id, title, description, category, priority, status, photo, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		pr.VillagerID, pr.Title, pr.Description, pr.Category, pr.Priority, pr.Status, pr.Photo, pr.Location,
	).Scan(&pr.ID, &pr.CreatedAt, &pr.UpdatedAt)
}

func (r *problemRepoPG) get(ctx context.Context, id int64, suffix string) (*Problem, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+problemColumns+` FROM `+problemFrom+` WHERE p.id = $1`+suffix, id)
	pr, err := scanProblem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return pr, err
}

func (r *problemRepoPG) GetByID(ctx context.Context, id int64) (*Problem, error) {
	return r.get(ctx, id, "")
}

func (r *problemRepoPG) GetForUpdate(ctx context.Context, id int64) (*Problem, error) {
	if db.TxFromContext(ctx) == nil {
		return r.get(ctx, id, "")
	}
	return r.get(ctx, id, " FOR UPDATE OF p")
}

func (r *problemRepoPG) Assign(ctx context.Context, id, officerID int64) (*Problem, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE problems
		SET assigned_to = $2,
		    status = CASE WHEN status = 'pending' THEN 'assigned' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND assigned_to IS NULL AND status NOT IN ('resolved', 'completed')`,
		id, officerID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyAssigned
	}
	return r.GetByID(ctx, id)
}

func (r *problemRepoPG) SaveStatus(ctx context.Context, pr *Problem) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE problems
		SET status = $2, resolved_at = $3, escalated_to = $4, escalation_date = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		pr.ID, pr.Status, pr.ResolvedAt, pr.EscalatedTo, pr.EscalationDate,
	).Scan(&pr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *problemRepoPG) TouchResponse(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE problems SET last_response_date = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scopeWhere expresses Scope.Matches in SQL.
func scopeWhere(s Scope) sq.Sqlizer {
	switch s.Role {
	case auth.RoleVillager:
		return sq.Eq{"p.villager_id": s.UserID}
	case auth.RoleAVMS:
		if s.Mine {
			return sq.Eq{"p.assigned_to": s.UserID}
		}
		return sq.Or{sq.Eq{"p.assigned_to": nil}, sq.Eq{"p.assigned_to": s.UserID}}
	case auth.RoleDoctor:
		if s.Mine {
			return sq.Or{
				sq.Eq{"p.escalated_to": s.UserID},
				sq.And{sq.Eq{"p.escalated_to": nil}, sq.Eq{"p.status": StatusEscalated}},
			}
		}
		return sq.Or{sq.Eq{"p.status": StatusEscalated}, sq.Eq{"p.escalated_to": s.UserID}}
	case auth.RoleAdmin:
		return sq.Expr("TRUE")
	}
	return sq.Expr("FALSE")
}

func filterWhere(scope Scope, f ListFilter) sq.And {
	where := sq.And{scopeWhere(scope)}
	if f.Status != "" {
		where = append(where, sq.Eq{"p.status": f.Status})
	}
	if f.Priority != "" {
		where = append(where, sq.Eq{"p.priority": f.Priority})
	}
	if f.Category != "" {
		where = append(where, sq.Eq{"p.category": f.Category})
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		like := "%" + kw + "%"
		where = append(where, sq.Or{
			sq.ILike{"p.title": like},
			sq.ILike{"p.description": like},
			sq.ILike{"p.location": like},
		})
	}
	return where
}

func (r *problemRepoPG) List(ctx context.Context, scope Scope, f ListFilter) ([]*Problem, int, error) {
	where := filterWhere(scope, f)

	countSQL, countArgs, err := psql.Select("COUNT(*)").From("problems p").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, listArgs, err := psql.Select(problemColumns).From(problemFrom).
		Where(where).
		OrderBy("p.created_at DESC", "p.id DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Problem{}
	for rows.Next() {
		pr, err := scanProblem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *problemRepoPG) CountByStatus(ctx context.Context, scope Scope) (map[Status]int, error) {
	query, args, err := psql.Select("p.status", "COUNT(*)").From("problems p").
		Where(scopeWhere(scope)).
		GroupBy("p.status").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func (r *problemRepoPG) FindByPhoto(ctx context.Context, ref string) (*Problem, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+problemColumns+` FROM `+problemFrom+` WHERE p.photo = $1 ORDER BY p.id LIMIT 1`, ref)
	pr, err := scanProblem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return pr, err
}

func scanProblem(row pgx.Row) (*Problem, error) {
	var pr Problem
	err := row.Scan(
		&pr.ID, &pr.VillagerID, &pr.VillagerName, &pr.AssignedTo, &pr.EscalatedTo,
		&pr.Title, &pr.Description, &pr.Category, &pr.Priority, &pr.Status, &pr.Photo, &pr.Location,
		&pr.CreatedAt, &pr.UpdatedAt, &pr.ResolvedAt, &pr.EscalationDate, &pr.LastResponseDate,
	)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}
