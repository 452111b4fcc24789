// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限サイズ。
const maxRequestBodyBytes = 64 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, secret string) (*model.AuthResult, error)
	Login(ctx context.Context, email, secret string) (*model.AuthResult, error)
	CurrentUser(ctx context.Context, subjectID string) (*model.User, error)
}

// AuthHandler は登録・ログイン・現在ユーザー取得のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// credentialsRequest は登録・ログインリクエストのボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// claimsResponse はトークンのクレームのAPIレスポンス。
type claimsResponse struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Iat   int64  `json:"iat"`
	Exp   int64  `json:"exp"`
}

// meResponse は現在ユーザー取得のAPIレスポンス。
type meResponse struct {
	User   model.UserSummary `json:"user"`
	Claims claimsResponse    `json:"claims"`
}

// Register はユーザー登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	result, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeTokenResponse(w, http.StatusCreated, result)
}

// Login はログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeTokenResponse(w, http.StatusOK, result)
}

// Me はアクセスゲートで検証済みのトークンに対応するユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.ClaimsFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewMissingTokenError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims.SubjectID())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User: user.Summary(),
		Claims: claimsResponse{
			Sub:   claims.SubjectID(),
			Email: claims.Email,
			Iat:   claims.IssuedAtUnix(),
			Exp:   claims.ExpiresAtUnix(),
		},
	})
}

// decodeCredentials はリクエストボディを解析する。失敗時は400を書き込みfalseを返す。
func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		reason := "JSONを解析できません"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			reason = "ボディが大きすぎます"
		} else if errors.Is(err, io.EOF) {
			reason = "ボディが空です"
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(reason))
		return req, false
	}

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("emailとpasswordは必須です"))
		return req, false
	}

	return req, true
}

// writeTokenResponse はトークンを含むレスポンスをキャッシュ禁止で書き込む。
func writeTokenResponse(w http.ResponseWriter, statusCode int, result *model.AuthResult) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, statusCode, result)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", slog.String("error", err.Error()))
	}
}
