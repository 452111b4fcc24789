// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrDuplicateEmail は一意制約違反により同じemailのユーザーを作成できなかった場合に返される。
// 登録時の存在確認と作成の間に別リクエストが同じemailを登録した場合に発生する。
var ErrDuplicateEmail = errors.New("user with this email already exists")

// UserRepository はユーザー（認証情報）の永続化インターフェース。
type UserRepository interface {
	// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
	// emailは大文字小文字を区別して比較する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はemailとパスワードハッシュからユーザーを作成し、作成したレコードを返す。
	// emailが既に存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, email, passwordHash string) (*model.User, error)
}
