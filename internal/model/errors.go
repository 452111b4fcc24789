// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// メッセージは固定文言で、内部エラーの詳細は含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAlreadyExists      = "USER_ALREADY_EXISTS"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeHashingFailure     = "PASSWORD_HASH_ERROR"
	ErrCodeStoreFailure       = "DATABASE_ERROR"
	ErrCodeTokenFailure       = "TOKEN_ERROR"
	ErrCodeMissingToken       = "MISSING_TOKEN"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewAlreadyExistsError は登録済みメールアドレスでの登録エラーを生成する。
func NewAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyExists,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// 未登録ユーザーとパスワード誤りを区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewHashingFailureError はパスワードハッシュ化失敗エラーを生成する。
func NewHashingFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeHashingFailure,
		Message:  "パスワードの処理に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewStoreFailureError はデータベースエラーを生成する。
func NewStoreFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreFailure,
		Message:  "データベースエラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTokenFailureError はトークン発行失敗エラーを生成する。
func NewTokenFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenFailure,
		Message:  "トークンの発行に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMissingTokenError は認可トークン未指定エラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingToken,
		Message:  "認可トークンがありません。",
		Category: "auth",
		Action:   "Authorizationヘッダーに Bearer トークンを指定してください。",
	}
}

// NewInvalidTokenError は認可トークン不正エラーを生成する。
// 署名不正・期限切れ・形式不正を区別しない。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認可トークンが無効です。",
		Category: "auth",
		Action:   "再度ログインしてトークンを取得してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディ不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "emailとpasswordを含むJSONを送信してください。",
	}
}

// NewUserNotFoundError はトークンの主体に対応するユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
