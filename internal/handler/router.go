package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/placebook/internal/metrics"
	"github.com/hitoshi/placebook/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Recorder          metrics.Recorder
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ロケーション
	Workspaces WorkspaceOpener
	Sanitizer  Sanitizer

	// 首都一覧
	CapitalsService CapitalsServiceInterface

	// ユーザー
	UserService UserServiceInterface

	// 運用
	HealthDB       Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF → Session → RateLimit(General)
//
// 認証ルート（/auth/*）、ヘルスチェック、メトリクスはセッション検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Recorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	locationsHandler := NewLocationsHandler(deps.Workspaces, deps.Sanitizer)
	streamHandler := NewStreamHandler(locationsHandler, deps.CORSAllowedOrigin)
	capitalsHandler := NewCapitalsHandler(deps.CapitalsService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthDB))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.SignUp)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: CSRF → Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		geocodeLimit := deps.RateLimiter.GeocodeMiddleware()

		r.Route("/api/locations", func(r chi.Router) {
			r.Get("/", locationsHandler.List)
			r.Post("/", locationsHandler.Create)
			r.Post("/reload", locationsHandler.Reload)
			r.Get("/stream", streamHandler.Stream)
			r.With(geocodeLimit).Get("/{id}/map", locationsHandler.Map)
		})

		r.With(geocodeLimit).Get("/api/geocode", locationsHandler.Geocode)

		r.Route("/api/capitals", func(r chi.Router) {
			r.Get("/", capitalsHandler.List)
			r.Get("/{code}/flag", capitalsHandler.Flag)
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}
