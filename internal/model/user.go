// Package model はドメインモデルを定義する。
package model

import "time"

// Role はアカウント種別を表す閉じた列挙型。
// 認可判定では文字列比較ではなく、この型に対する網羅的なswitchを使用する。
type Role string

const (
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
	// RoleProvider は会場を提供するプロバイダー。
	RoleProvider Role = "provider"
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
)

// ParseRole は文字列をRoleに変換する。未知の値の場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleProvider, RoleUser:
		return Role(s), true
	default:
		return "", false
	}
}

// CanAdminister は管理APIを利用できるロールかどうかを返す。
func (r Role) CanAdminister() bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleProvider, RoleUser:
		return false
	default:
		return false
	}
}

// Room はプッシュ配信で使用するルーム名を返す。
// ロールごとに名前空間を分け、管理者とプロバイダー等のIDが衝突しないようにする。
func (r Role) Room(id string) string {
	return string(r) + ":" + id
}

// User はサービス利用ユーザーを表す。ロールは常にuser。
type User struct {
	ID           string    `json:"id"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	PhoneNumber  string    `json:"phoneNumber"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Role はユーザーのロールを返す。
func (u *User) Role() Role { return RoleUser }

// Admin は管理者アカウントを表す。
type Admin struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session は管理者のログインセッションを表す。
type Session struct {
	ID        string
	AdminID   string
	Role      Role
	ExpiresAt time.Time
	CreatedAt time.Time
}
