package auth

import (
	"errors"
	"fmt"
)

// ErrorKind は認証サービスが呼び出し元に返すエラーの種別。
// 種別は閉じた集合で、ErrorKindsが全種別を返す。
type ErrorKind int

const (
	// KindAlreadyExists は登録済みのemailで登録しようとした場合。
	KindAlreadyExists ErrorKind = iota + 1
	// KindInvalidCredentials は未登録のemail、またはパスワード誤りの場合。両者は区別しない。
	KindInvalidCredentials
	// KindHashingFailure はパスワードのハッシュ化に失敗した場合。
	KindHashingFailure
	// KindStoreFailure は認証情報ストアの操作に失敗した場合。
	KindStoreFailure
	// KindTokenFailure はトークンの署名に失敗した場合。
	KindTokenFailure
)

// ErrorKinds は定義済みの全エラー種別を返す。
func ErrorKinds() []ErrorKind {
	return []ErrorKind{
		KindAlreadyExists,
		KindInvalidCredentials,
		KindHashingFailure,
		KindStoreFailure,
		KindTokenFailure,
	}
}

// String はメトリクスやログで使用する種別名を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindHashingFailure:
		return "hashing_failure"
	case KindStoreFailure:
		return "store_failure"
	case KindTokenFailure:
		return "token_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error は種別と原因を保持する認証エラー。
// 原因は内部ログ用で、クライアントには種別に対応する固定文言のみを返す。
type Error struct {
	Kind ErrorKind
	Err  error
}

// 種別比較用のセンチネル。errors.Is(err, ErrAlreadyExists) のように使用する。
var (
	ErrAlreadyExists      = &Error{Kind: KindAlreadyExists}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrHashingFailure     = &Error{Kind: KindHashingFailure}
	ErrStoreFailure       = &Error{Kind: KindStoreFailure}
	ErrTokenFailure       = &Error{Kind: KindTokenFailure}
)

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Is は種別が一致する*Errorを同一とみなす。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf はerrに含まれる認証エラーの種別を返す。認証エラーでない場合はfalseを返す。
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
