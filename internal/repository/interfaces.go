// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/mandapadmin/internal/model"
)

// AdminRepository は管理者アカウントの永続化インターフェース。
type AdminRepository interface {
	// FindByID は指定IDの管理者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Admin, error)
	// FindByEmail はメールアドレスで管理者を検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Admin, error)
	// Create は管理者を作成する。メールアドレス重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, admin *model.Admin) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はaccount_emailsとusersを同一トランザクションで作成する。
	// メールアドレスがユーザーまたはプロバイダーと重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// List は全ユーザーを作成日時の降順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// Search は氏名・メールアドレス・電話番号の部分一致でユーザーを検索する。
	Search(ctx context.Context, query string) ([]*model.User, error)

	// Count はユーザー数を返す。
	Count(ctx context.Context) (int, error)
}

// ProviderRepository はプロバイダーデータの永続化インターフェース。
type ProviderRepository interface {
	// FindByID は指定IDのプロバイダーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Provider, error)

	// CreateWithRequest はaccount_emails、providers、保留中の承認リクエストを
	// 同一トランザクションで作成する。
	// メールアドレス重複時はErrDuplicateEmailを返す。
	CreateWithRequest(ctx context.Context, provider *model.Provider, request *model.ApprovalRequest) error

	// List は全プロバイダーを作成日時の降順で返す。
	List(ctx context.Context) ([]*model.Provider, error)

	// Search は名称・メールアドレス・電話番号の部分一致でプロバイダーを検索する。
	Search(ctx context.Context, query string) ([]*model.Provider, error)

	// Count はプロバイダー数を返す。
	Count(ctx context.Context) (int, error)
}

// ApprovalRepository は承認リクエストの永続化インターフェース。
type ApprovalRepository interface {
	// Create は承認リクエストを作成する。
	// 同一プロバイダーのリクエストが既に存在する場合はErrDuplicateRequestを返す。
	Create(ctx context.Context, request *model.ApprovalRequest) error

	// FindByID は指定IDの承認リクエストを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ApprovalRequest, error)

	// FindByProviderID はプロバイダーIDで承認リクエストを取得する。見つからない場合はnilを返す。
	FindByProviderID(ctx context.Context, providerID string) (*model.ApprovalRequest, error)

	// List は承認リクエストをプロバイダー情報とJOINして作成日時の降順で返す。
	// statusが空の場合は全件を返す。
	List(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRequestWithProvider, error)

	// Decide は保留中の承認リクエストを終端状態へ遷移させる。
	// status = 'pending' を条件とした単一のUPDATEで行い、
	// 対象が保留中でなかった（または存在しない）場合はnilを返す。
	Decide(ctx context.Context, id string, outcome model.ApprovalStatus, adminID string, decidedAt time.Time) (*model.ApprovalRequest, error)

	// CountByStatus はステータスごとの件数を返す。
	CountByStatus(ctx context.Context) (map[model.ApprovalStatus]int, error)
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// Create は通知を作成する。
	Create(ctx context.Context, notification *model.Notification) error

	// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Notification, error)

	// MarkRead は通知を既読にする。既読の通知に対しても成功する。
	// 通知が存在しない場合はfalseを返す。
	MarkRead(ctx context.Context, id string) (bool, error)

	// ListUnreadIDs は未読通知のIDを作成日時の降順で返す。
	ListUnreadIDs(ctx context.Context) ([]string, error)

	// List は通知を作成日時の降順で返す。
	List(ctx context.Context, unreadOnly bool, limit int) ([]*model.Notification, error)

	// Summary は通知の集計値を返す。
	Summary(ctx context.Context) (*model.NotificationSummary, error)
}

// SessionRepository はログインセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByAdminID は指定管理者の全セッションを削除する。
	DeleteByAdminID(ctx context.Context, adminID string) error
	// CountActive は有効期限内のセッション数を返す。
	CountActive(ctx context.Context) (int, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
