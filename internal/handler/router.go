package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	StatusRecorder     middleware.StatusRecorder
	CORSAllowedOrigins []string
	Admission          *middleware.Admission
	TokenVerifier      middleware.TokenVerifier

	// ヘルスチェック・メトリクス
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Admission → AccessGate(/api/*)
//
// ヘルスチェック（/healthz, /ready）とメトリクス（/metrics）のみアドミッション制御の対象外。
// それ以外のリクエストは未定義パスの404や405も含めてアドミッション制御を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- アドミッション制御対象外のルート ---
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/ready", healthHandler.Ready)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- アドミッション制御対象のルート ---
	// 静的ルートが優先されるため、上記以外はすべてこのサブルーターに流れる
	r.Mount("/", newAdmittedRouter(deps))

	return r
}

// newAdmittedRouter はアドミッション制御を通過したリクエストを処理するサブルーターを返す。
// ミドルウェアはマッチしなかったリクエストのNotFound/MethodNotAllowedにも適用される。
func newAdmittedRouter(deps *RouterDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(deps.Admission.Middleware())

	authHandler := NewAuthHandler(deps.AuthService)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	// 認証が必要なルート
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAccessGate(deps.TokenVerifier))
		r.Get("/me", authHandler.Me)
	})

	return r
}
