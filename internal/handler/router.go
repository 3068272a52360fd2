package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hopehub/internal/metrics"
	"github.com/hitoshi/hopehub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Guard             *middleware.Guard
	RateLimiter       *middleware.RateLimiter
	RateLimits        middleware.RateLimiterConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 投稿
	PostService PostServiceInterface

	// フォーム
	FormService FormServiceInterface

	// RSS
	Feed FeedConfig

	// ヘルスチェック
	DB Pinger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Guard → RateLimit(general) → CSRF
//
// フォーム送信とログイン・ユーザー登録には専用のレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(deps.Guard.Middleware())
	r.Use(deps.RateLimiter.Middleware(deps.RateLimits.General))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	postHandler := NewPostHandler(deps.PostService)
	formHandler := NewFormHandler(deps.FormService)
	feedHandler := NewFeedHandler(deps.PostService, deps.Feed)

	// --- 運用系 ---
	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/feed.xml", feedHandler)
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証 ---
	r.Route("/auth", func(r chi.Router) {
		login := deps.RateLimiter.Middleware(deps.RateLimits.Login)
		r.With(login).Post("/register", authHandler.Register)
		r.With(login).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
	})
	r.Get("/api/me", authHandler.Me)

	// --- 公開API ---
	r.Route("/api/posts", func(r chi.Router) {
		r.Get("/", postHandler.ListPublished)
		r.Get("/{id}", postHandler.GetPublished)
	})

	r.Route("/api/forms", func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware(deps.RateLimits.Forms))
		r.Post("/contact", formHandler.Contact)
		r.Post("/donation", formHandler.Donation)
		r.Post("/volunteer", formHandler.Volunteer)
		r.Post("/partnership", formHandler.Partnership)
		r.Post("/newsletter", formHandler.Newsletter)
	})

	// --- 管理API（ガードがADMINロールを要求する） ---
	r.Route("/api/admin/posts", func(r chi.Router) {
		r.Get("/", postHandler.List)
		r.Post("/", postHandler.Create)
		r.Post("/publish", postHandler.Publish)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", postHandler.Get)
			r.Put("/", postHandler.Update)
			r.Put("/status", postHandler.SetStatus)
		})
	})

	return r
}
