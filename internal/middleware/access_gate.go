// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

const bearerPrefix = "Bearer "

var (
	// ErrMissingToken はAuthorizationヘッダーが存在しない場合に返される。
	ErrMissingToken = errors.New("authorization header missing")
	// ErrInvalidToken はBearer形式でない、または検証に失敗したトークンの場合に返される。
	ErrInvalidToken = errors.New("invalid bearer token")
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストにトークンのクレームを格納するためのキー。
var claimsContextKey = contextKey("claims")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// token.Codecが実装する。
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// NewAccessGate はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 検証に成功した場合はクレームをリクエストコンテキストに注入する。
// ヘッダーがない場合はMISSING_TOKEN、それ以外の失敗はすべてINVALID_TOKENとして401を返す。
func NewAccessGate(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := Authenticate(r, verifier)
			if err != nil {
				slog.Debug("access denied",
					slog.String("path", r.URL.Path),
					slog.String("reason", err.Error()),
				)
				if errors.Is(err, ErrMissingToken) {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewMissingTokenError())
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
				return
			}

			setLoggedSubject(r.Context(), claims.SubjectID())
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// Authenticate はリクエストからBearerトークンを取り出して検証する。
// 戻り値のエラーはErrMissingTokenまたはErrInvalidTokenをラップする。
func Authenticate(r *http.Request, verifier TokenVerifier) (*token.Claims, error) {
	// 1. Authorizationヘッダーを取得
	values := r.Header.Values("Authorization")
	if len(values) == 0 {
		return nil, ErrMissingToken
	}

	// 2. Bearerプレフィックスを除去
	raw, ok := strings.CutPrefix(values[0], bearerPrefix)
	if !ok {
		return nil, ErrInvalidToken
	}

	// 3. トークンを検証
	claims, err := verifier.Verify(raw)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	return claims, nil
}

// ClaimsFromContext はリクエストコンテキストからクレームを取得する。
// アクセスゲートを通過したリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*token.Claims, error) {
	claims, ok := ctx.Value(claimsContextKey).(*token.Claims)
	if !ok || claims == nil {
		return nil, errors.New("claims not found in context")
	}
	return claims, nil
}

// ContextWithClaims はコンテキストにクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
