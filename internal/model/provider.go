package model

import "time"

// Provider は会場を提供するプロバイダーアカウントを表す。
// 作成時には必ず保留中（pending）の承認リクエストが1件だけ紐づく。
type Provider struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PhoneNumber  string    `json:"phoneNumber"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Role はプロバイダーのロールを返す。
func (p *Provider) Role() Role { return RoleProvider }

// ApprovalStatus は承認リクエストの状態を表す。
type ApprovalStatus string

const (
	// ApprovalPending は判定待ちの初期状態。
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalApproved は承認済み（終端状態）。
	ApprovalApproved ApprovalStatus = "approved"
	// ApprovalRejected は却下済み（終端状態）。
	ApprovalRejected ApprovalStatus = "rejected"
)

// ParseApprovalStatus は文字列をApprovalStatusに変換する。
func ParseApprovalStatus(s string) (ApprovalStatus, bool) {
	switch ApprovalStatus(s) {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return ApprovalStatus(s), true
	default:
		return "", false
	}
}

// IsTerminal は終端状態かどうかを返す。終端状態からの遷移は存在しない。
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// IsOutcome はdecideに指定できる判定結果かどうかを返す。
func (s ApprovalStatus) IsOutcome() bool {
	return s.IsTerminal()
}

// ApprovalRequest はプロバイダーの承認ライフサイクルを表す。
// 1プロバイダーにつき1件のみ存在し、状態はpendingから終端状態へ一方向にのみ遷移する。
type ApprovalRequest struct {
	ID         string         `json:"id"`
	ProviderID string         `json:"providerId"`
	Status     ApprovalStatus `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	DecidedAt  *time.Time     `json:"decidedAt,omitempty"`
	DecidedBy  *string        `json:"decidedBy,omitempty"`
}

// ApprovalRequestWithProvider は承認リクエストとプロバイダー情報を結合したモデル。
// providersテーブルとJOINして取得される。
type ApprovalRequestWithProvider struct {
	ApprovalRequest
	Provider Provider `json:"provider"`
}

// ApprovalDecision はdecideの成功結果を表す。
type ApprovalDecision struct {
	RequestID  string         `json:"requestId"`
	ProviderID string         `json:"providerId"`
	Outcome    ApprovalStatus `json:"status"`
	DecidedBy  string         `json:"decidedBy"`
	DecidedAt  time.Time      `json:"decidedAt"`
}

// AccountStats はダッシュボードの集計値を表す。
type AccountStats struct {
	TotalUsers        int `json:"totalUsers"`
	TotalProviders    int `json:"totalProviders"`
	PendingProviders  int `json:"pendingProviders"`
	ApprovedProviders int `json:"approvedProviders"`
	RejectedProviders int `json:"rejectedProviders"`
}
