package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/askviz/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// sql.DBがそのまま実装している。
type HealthChecker interface {
	Ping() error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない

	// 認証
	Registry          CoordinatorRegistry
	RedirectValidator RedirectValidator
	AuthConfig        AuthHandlerConfig

	// 質問・可視化履歴
	AskService           AskServiceInterface
	VisualizationService VisualizationServiceInterface

	// プロフィール
	ProfileStore ProfileStoreInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → SecurityHeaders → CSRF
//	→ ClientContextMiddleware → RequireSession → RateLimit(General)
//
// 認証ルート（/auth/*）とヘルスチェックは認証ミドルウェアの外に配置する。
// CSRF検証は状態変更メソッド全体に適用される。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.Registry, deps.RedirectValidator, deps.AuthConfig)
	askHandler := NewAskHandler(deps.AskService)
	vizHandler := NewVisualizationHandler(deps.VisualizationService)
	profileHandler := NewProfileHandler(deps.ProfileStore)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.Ping(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.SignUp)
		r.Post("/signin", authHandler.SignIn)
		r.Post("/signout", authHandler.SignOut)
		r.Get("/me", authHandler.Me)
		r.Get("/oauth/{provider}", authHandler.OAuth)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: ClientContext → RequireSession → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientContextMiddleware(deps.SessionResolver))
		r.Use(middleware.RequireSession())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 質問（質問専用レート制限を追加）
		r.With(deps.RateLimiter.AskMiddleware()).Post("/api/ask", askHandler.Ask)

		// 可視化履歴
		r.Route("/api/visualizations", func(r chi.Router) {
			r.Get("/", vizHandler.List)
			r.Get("/{id}", vizHandler.Get)
		})

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Patch("/", profileHandler.Update)
		})
	})

	return r
}
