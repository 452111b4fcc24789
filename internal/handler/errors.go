package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// errorMapping は認証エラー種別に対応するHTTPステータスとレスポンス。
type errorMapping struct {
	status int
	apiErr func() *model.APIError
}

// authErrorTable は認証エラー種別からHTTPレスポンスへの対応表。
// auth.ErrorKindsの全種別を網羅する。
var authErrorTable = map[auth.ErrorKind]errorMapping{
	auth.KindAlreadyExists:      {http.StatusConflict, model.NewAlreadyExistsError},
	auth.KindInvalidCredentials: {http.StatusUnauthorized, model.NewInvalidCredentialsError},
	auth.KindHashingFailure:     {http.StatusInternalServerError, model.NewHashingFailureError},
	auth.KindStoreFailure:       {http.StatusInternalServerError, model.NewStoreFailureError},
	auth.KindTokenFailure:       {http.StatusInternalServerError, model.NewTokenFailureError},
}

// handleServiceError はサービス層から返されたエラーを固定文言のHTTPレスポンスに変換する。
// 内部エラーの詳細はログにのみ記録する。
func handleServiceError(w http.ResponseWriter, err error) {
	kind, ok := auth.KindOf(err)
	if ok {
		if m, found := authErrorTable[kind]; found {
			if m.status >= http.StatusInternalServerError {
				slog.Error("auth service error",
					slog.String("kind", kind.String()),
					slog.String("error", err.Error()),
				)
			}
			middleware.WriteErrorResponse(w, m.status, m.apiErr())
			return
		}
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
