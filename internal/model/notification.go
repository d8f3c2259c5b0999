package model

import "time"

// NotificationType は通知の種別を表す。
type NotificationType string

const (
	// NotificationNewUser はユーザー登録時の通知。
	NotificationNewUser NotificationType = "new_user"
	// NotificationNewProvider はプロバイダー登録時の通知。
	NotificationNewProvider NotificationType = "new_provider"
	// NotificationSystem はシステム通知。
	NotificationSystem NotificationType = "system"
)

// IsValid は定義済みの通知種別かどうかを返す。
func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationNewUser, NotificationNewProvider, NotificationSystem:
		return true
	default:
		return false
	}
}

// Notification は管理者向けの通知を表す。
// 追記専用で、作成後に変更されるのはreadフラグ（false→true）のみ。
type Notification struct {
	ID                string           `json:"id"`
	Type              NotificationType `json:"type"`
	Title             string           `json:"title"`
	Message           string           `json:"message"`
	Read              bool             `json:"read"`
	CreatedAt         time.Time        `json:"createdAt"`
	RelatedUserID     *string          `json:"userId,omitempty"`
	RelatedProviderID *string          `json:"providerId,omitempty"`
}

// RelatedIDs は通知に紐づくドメインオブジェクトのIDを表す。
type RelatedIDs struct {
	UserID     string
	ProviderID string
}

// NotificationSummary は通知の集計値を表す。
type NotificationSummary struct {
	Total        int `json:"total"`
	Unread       int `json:"unread"`
	NewUsers     int `json:"newUsers"`
	NewProviders int `json:"newProviders"`
}

// MarkAllResult はmarkAllReadの結果を表す。
// 通知ごとに個別に更新するため、一部のみ失敗することがある。
type MarkAllResult struct {
	Updated []string `json:"updated"`
	Failed  []string `json:"failed"`
}
