package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
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

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const userColumns = `id, name, email, phone, role, village, password_hash, status, profile, created_at, updated_at`

const uniqueViolation = "23505"

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	profile, err := json.Marshal(u.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (name, email, phone, role, village, password_hash, status, profile)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		u.Name, u.Email, u.Phone, u.Role, u.Village, u.PasswordHash, u.Status, profile,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *userRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error) {
	where := sq.And{}
	if f.Role != "" {
		where = append(where, sq.Eq{"role": f.Role})
	}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": f.Status})
	}
	if f.Village != "" {
		where = append(where, sq.Eq{"village": f.Village})
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		like := "%" + kw + "%"
		where = append(where, sq.Or{sq.ILike{"name": like}, sq.ILike{"email": like}})
	}

	countSQL, countArgs, err := psql.Select("COUNT(*)").From("users").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, listArgs, err := psql.Select(userColumns).From("users").Where(where).
		OrderBy("name", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	users, err := r.query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *userRepoPG) ListActive(ctx context.Context, role, village string) ([]*User, error) {
	q := psql.Select(userColumns).From("users").
		Where(sq.Eq{"role": role, "status": StatusActive}).
		OrderBy("id")
	if village != "" {
		q = q.Where(sq.Eq{"village": village})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return r.query(ctx, query, args...)
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	profile, err := json.Marshal(u.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET name = $2, phone = $3, village = $4, profile = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Name, u.Phone, u.Village, profile,
	).Scan(&u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *userRepoPG) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*User, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var profile []byte
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.Village,
		&u.PasswordHash, &u.Status, &profile, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &u.Profile); err != nil {
			return nil, fmt.Errorf("decode profile for user %d: %w", u.ID, err)
		}
	}
	return &u, nil
}
