package notification

import (
	"context"
	"strings"
	"time"

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

const notificationColumns = `id, user_id, problem_id, title, message, type, priority, is_read, created_at, read_at`

const priorityOrder = `CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC`

type notificationRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &notificationRepoPG{pool: pool}
}

func (r *notificationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (user_id, problem_id, title, message, type, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_read, created_at`,
		n.UserID, n.ProblemID, n.Title, n.Message, n.Type, n.Priority,
	).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, id, userID int64) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *notificationRepoPG) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = NOW()
		WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepoPG) ListUnread(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = $1 AND NOT is_read
		ORDER BY created_at DESC, `+priorityOrder+` LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

func (r *notificationRepoPG) CountUnread(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	return n, err
}

func (r *notificationRepoPG) List(ctx context.Context, userID int64, f Filter) ([]*Notification, int, error) {
	where := sq.And{sq.Eq{"user_id": userID}}
	if f.Type != "" {
		where = append(where, sq.Eq{"type": f.Type})
	}
	if f.Read != nil {
		where = append(where, sq.Eq{"is_read": *f.Read})
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		like := "%" + kw + "%"
		where = append(where, sq.Or{sq.ILike{"title": like}, sq.ILike{"message": like}})
	}

	countSQL, countArgs, err := psql.Select("COUNT(*)").From("notifications").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, listArgs, err := psql.Select(notificationColumns).From("notifications").
		Where(where).
		OrderBy("created_at DESC", priorityOrder).
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
	items, err := scanNotifications(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *notificationRepoPG) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM notifications WHERE is_read AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNotifications(rows pgx.Rows) ([]*Notification, error) {
	defer rows.Close()
	out := []*Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.ProblemID, &n.Title, &n.Message,
			&n.Type, &n.Priority, &n.IsRead, &n.CreatedAt, &n.ReadAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
