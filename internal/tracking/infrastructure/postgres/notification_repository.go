package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	tracking "livestock-cloud/internal/tracking/domain"
)

const (
	defaultNotificationsTable = "notifications"
	defaultNotificationLimit  = 200
)

// NotificationRepository is a Postgres implementation for notifications.
type NotificationRepository struct {
	db    DBTX
	table string
}

// NotificationOption configures the repository.
type NotificationOption func(*NotificationRepository)

// WithNotificationTable overrides the default table name.
func WithNotificationTable(table string) NotificationOption {
	return func(repo *NotificationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewNotificationRepository constructs a repository.
func NewNotificationRepository(db DBTX, opts ...NotificationOption) *NotificationRepository {
	repo := &NotificationRepository{db: db, table: defaultNotificationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Append inserts a notification. Re-appending the same id is a no-op.
func (r *NotificationRepository) Append(ctx context.Context, n tracking.Notification) error {
	if r == nil || r.db == nil {
		return errors.New("notification repo: nil db")
	}
	if n.ID == "" {
		return errors.New("notification repo: empty id")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	farm_id,
	type,
	priority,
	title,
	message,
	animal_id,
	read,
	created_at,
	read_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (id) DO NOTHING`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		n.ID,
		n.FarmID,
		string(n.Type),
		string(n.Priority),
		n.Title,
		n.Message,
		n.AnimalID,
		n.Read,
		n.CreatedAt.UTC(),
		nullTimePtr(n.ReadAt),
	)
	return err
}

// List returns notifications matching filter, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter tracking.NotificationFilter) ([]tracking.Notification, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notification repo: nil db")
	}

	var (
		where []string
		args  []any
	)
	if filter.FarmID != "" {
		args = append(args, filter.FarmID)
		where = append(where, fmt.Sprintf("farm_id = $%d", len(args)))
	}
	if filter.AnimalID != "" {
		args = append(args, filter.AnimalID)
		where = append(where, fmt.Sprintf("animal_id = $%d", len(args)))
	}
	if filter.Unread {
		where = append(where, "read = FALSE")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT id, farm_id, type, priority, title, message, animal_id, read, created_at, read_at
FROM %s`, r.table)
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf("\nORDER BY created_at DESC, id\nLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracking.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// Get returns a notification by id, or nil when absent.
func (r *NotificationRepository) Get(ctx context.Context, id string) (*tracking.Notification, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notification repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, farm_id, type, priority, title, message, animal_id, read, created_at, read_at
FROM %s
WHERE id = $1`, r.table)

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

// MarkRead flags a notification as read and returns it.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string, at time.Time) (*tracking.Notification, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notification repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET read = TRUE, read_at = COALESCE(read_at, $2)
WHERE id = $1
RETURNING id, farm_id, type, priority, title, message, animal_id, read, created_at, read_at`, r.table)

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id, at.UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tracking.ErrNotFound
		}
		return nil, err
	}
	return n, nil
}

// CountUnread returns the number of unread notifications.
func (r *NotificationRepository) CountUnread(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("notification repo: nil db")
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE read = FALSE`, r.table)
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanNotification(row rowScanner) (*tracking.Notification, error) {
	var (
		n                   tracking.Notification
		alertType, priority string
		readAt              sql.NullTime
	)
	if err := row.Scan(
		&n.ID,
		&n.FarmID,
		&alertType,
		&priority,
		&n.Title,
		&n.Message,
		&n.AnimalID,
		&n.Read,
		&n.CreatedAt,
		&readAt,
	); err != nil {
		return nil, err
	}
	n.Type = tracking.AlertType(alertType)
	n.Priority = tracking.Priority(priority)
	n.CreatedAt = n.CreatedAt.UTC()
	if readAt.Valid {
		t := readAt.Time.UTC()
		n.ReadAt = &t
	}
	return &n, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}
