// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証情報ストアに保存されるアイデンティティレコードを表す。
// emailは保存時の大文字小文字を区別する一意な識別子。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserSummary はクライアントに返却可能なユーザー情報。
// パスワードハッシュは含めない。
type UserSummary struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary はUserから公開用のUserSummaryを生成する。
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// AuthResult は登録・ログイン成功時の結果。
type AuthResult struct {
	Token string      `json:"token"`
	User  UserSummary `json:"user"`
}
