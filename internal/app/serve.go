package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	figure "github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/placebook/internal/auth"
	"github.com/hitoshi/placebook/internal/capitals"
	"github.com/hitoshi/placebook/internal/config"
	"github.com/hitoshi/placebook/internal/database"
	"github.com/hitoshi/placebook/internal/geocode"
	"github.com/hitoshi/placebook/internal/handler"
	"github.com/hitoshi/placebook/internal/locations"
	"github.com/hitoshi/placebook/internal/metrics"
	"github.com/hitoshi/placebook/internal/middleware"
	"github.com/hitoshi/placebook/internal/security"
	"github.com/hitoshi/placebook/internal/user"
	"github.com/hitoshi/placebook/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの最大待ち時間。
const shutdownTimeout = 30 * time.Second

// printBanner は起動バナーを出力する。
func printBanner(w io.Writer) {
	fmt.Fprintln(w, figure.NewFigure("placebook", "", true).String())
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxが終了する（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, w io.Writer, cfg *config.Config) error {
	printBanner(w)

	// 1. DB接続とマイグレーション
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := database.Migrate(cfg.StoreDriver, cfg.DatabaseURL, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations applied")
	}

	// 2. リポジトリの初期化
	s := newStores(cfg.StoreDriver, db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	// 4. 外部APIクライアント（SSRF防止付き）
	outbound := security.NewSSRFGuard().NewSafeClient(cfg.HTTPClientTimeout)
	geocoder := geocode.NewClient(outbound, slog.Default(), geocode.Config{
		Endpoint:   cfg.GeocodeEndpoint,
		UserAgent:  cfg.UserAgent,
		RatePerSec: cfg.GeocodeRatePerSec,
	}, recorder)
	countries := capitals.NewClient(outbound, slog.Default(), capitals.Config{
		Endpoint:     cfg.CapitalsEndpoint,
		FlagEndpoint: cfg.FlagEndpoint,
		UserAgent:    cfg.UserAgent,
	}, recorder)

	// 5. 認証とワークスペース
	broker := auth.NewBroker()
	authService := auth.NewService(s.users, s.sessions, broker, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})
	hub := locations.NewHub(
		func(sessionID string) locations.SessionSource { return authService.Scope(sessionID) },
		broker, s.documents, geocoder, slog.Default(), recorder,
		locations.HubConfig{
			IdleTTL:              cfg.WorkspaceIdleTTL,
			SessionCheckInterval: cfg.SessionCheckInterval,
		},
	)
	defer hub.Close()

	userService := user.NewService(s.users, s.sessions, s.documents, hub)

	// 6. バックグラウンドジョブ
	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()
	go hub.Start(jobCtx)
	go cleanup.NewCleanupJob(s.sessions, slog.Default()).Start(jobCtx, cfg.SessionCleanupInterval)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitGeocode),
	)
	defer rateLimiter.Stop()

	authConfig := handler.AuthHandlerConfig{
		CookieDomain:  cfg.CookieDomain,
		CookieSecure:  cfg.CookieSecure,
		SessionMaxAge: cfg.SessionMaxAge,
	}
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Recorder:          recorder,
		SessionFinder:     s.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:     rateLimiter,
		AuthService:     authService,
		AuthConfig:      authConfig,
		Workspaces:      hub,
		Sanitizer:       security.NewTextSanitizer(),
		CapitalsService: countries,
		UserService:     userService,
		HealthDB:        db,
		MetricsHandler:  metrics.Handler(registry),
	})

	// 8. HTTPサーバーの起動
	// WebSocketは接続ごとに書き込み期限を設定するため、WriteTimeoutは通常のAPIにのみ効く
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	cancelJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}
