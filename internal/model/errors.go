// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, approval, notification, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // フィールド単位の検証エラー（ValidationErrorのみ）
	Err      error             // 原因エラー（StorageError等）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeStorage      = "STORAGE_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeInvalidLogin = "INVALID_CREDENTIALS"
)

// ErrDelivery はプッシュ配信の失敗を表す。
// ログに記録するのみで、APIの呼び出し元には返さない。
var ErrDelivery = errors.New("push delivery failed")

// NewValidationError はフィールド単位の検証エラーを生成する。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目の入力内容を確認してください。",
		Fields:   fields,
	}
}

// NewDuplicateEmailError はメールアドレス重複時の検証エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return NewValidationError(map[string]string{
		"email": "このメールアドレスは既に登録されています。",
	})
}

// NewConflictError は承認リクエストの重複エラーを生成する。
func NewConflictError(providerID string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("このプロバイダーの承認リクエストは既に存在します: %s", providerID),
		Category: "approval",
		Action:   "承認リクエスト一覧から既存のリクエストを確認してください。",
	}
}

// NewInvalidStateError は承認リクエストが保留中でない場合のエラーを生成する。
func NewInvalidStateError(requestID string, current ApprovalStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  fmt.Sprintf("承認リクエストは既に処理済みです: %s (%s)", requestID, current),
		Category: "approval",
		Action:   "一覧を再読み込みして最新の状態を確認してください。",
	}
}

// NewNotFoundError は対象リソースが見つからない場合のエラーを生成する。
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません: %s", resource, id),
		Category: "system",
		Action:   "IDを確認してください。",
	}
}

// NewStorageError は永続化層が利用できない場合のエラーを生成する。
func NewStorageError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStorage,
		Message:  "データの保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLogin,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// HasCode はerrのチェーンに指定コードのAPIErrorが含まれるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
