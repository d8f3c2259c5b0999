package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mandapadmin/internal/model"
)

const notificationColumns = `id, type, title, message, read, created_at, related_user_id, related_provider_id`

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	n := &model.Notification{}
	var (
		typ        string
		userID     sql.NullString
		providerID sql.NullString
	)
	if err := row.Scan(&n.ID, &typ, &n.Title, &n.Message, &n.Read, &n.CreatedAt, &userID, &providerID); err != nil {
		return nil, err
	}
	n.Type = model.NotificationType(typ)
	if userID.Valid {
		s := userID.String
		n.RelatedUserID = &s
	}
	if providerID.Valid {
		s := providerID.String
		n.RelatedProviderID = &s
	}
	return n, nil
}

// Create は通知を作成する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, type, title, message, read, created_at, related_user_id, related_provider_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, string(n.Type), n.Title, n.Message, n.Read, n.CreatedAt,
		nullableString(n.RelatedUserID), nullableString(n.RelatedProviderID),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find notification: %w", err)
	}
	return n, nil
}

// MarkRead は通知を既読にする。
// 既読の行も更新対象に含めるため、既読済みでもRowsAffectedは1になる。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = true WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListUnreadIDs は未読通知のIDを作成日時の降順で返す。
func (r *PostgresNotificationRepo) ListUnreadIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM notifications WHERE read = false ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread notifications: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan notification id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unread notifications: %w", err)
	}
	return ids, nil
}

// List は通知を作成日時の降順で返す。limitが0以下の場合は件数を制限しない。
func (r *PostgresNotificationRepo) List(ctx context.Context, unreadOnly bool, limit int) ([]*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if unreadOnly {
		query += ` WHERE read = false`
	}
	query += ` ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// Summary は通知の集計値を1クエリで返す。
func (r *PostgresNotificationRepo) Summary(ctx context.Context) (*model.NotificationSummary, error) {
	s := &model.NotificationSummary{}
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE read = false),
		        COUNT(*) FILTER (WHERE type = 'new_user'),
		        COUNT(*) FILTER (WHERE type = 'new_provider')
		 FROM notifications`,
	).Scan(&s.Total, &s.Unread, &s.NewUsers, &s.NewProviders)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize notifications: %w", err)
	}
	return s, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
