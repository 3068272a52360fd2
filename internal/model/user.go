// Package model はドメインモデルを定義する。
package model

import "time"

// Role は認可の粗い区分を表す。トークンに含まれる。
type Role string

const (
	// RoleAdmin はCMSの編集・公開操作が可能なロール。
	RoleAdmin Role = "ADMIN"
	// RoleUser は一般の登録ユーザー。
	RoleUser Role = "USER"
)

// IsValid は定義済みのロールかどうかを返す。
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// ParseRole は文字列をRoleに変換する。未定義の値の場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.IsValid()
}

// User はサイトにログインできるアカウントを表す。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity はリクエストを行っている主体を表す。
// 検証済みトークンから復元され、永続化はされない。
type Identity struct {
	ID    string
	Email string
	Role  Role
}

// IsAdmin はADMINロールかどうかを返す。
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
