// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/askviz/internal/ask"
	"github.com/hitoshi/askviz/internal/config"
	"github.com/hitoshi/askviz/internal/database"
	"github.com/hitoshi/askviz/internal/generation"
	"github.com/hitoshi/askviz/internal/handler"
	"github.com/hitoshi/askviz/internal/identity"
	"github.com/hitoshi/askviz/internal/logger"
	"github.com/hitoshi/askviz/internal/metrics"
	"github.com/hitoshi/askviz/internal/middleware"
	"github.com/hitoshi/askviz/internal/repository"
	"github.com/hitoshi/askviz/internal/security"
	"github.com/hitoshi/askviz/internal/session"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newGenerator は設定に応じたGeneratorを構築する。
// GenerationEndpointが未設定の場合は組み込みのプレースホルダー生成器を使う。
func newGenerator(cfg *config.Config, guard security.SSRFGuardService) (generation.Generator, error) {
	if cfg.GenerationEndpoint == "" {
		slog.Info("generation endpoint not configured, using placeholder generator")
		return generation.NewStaticGenerator(), nil
	}

	if err := guard.ValidateURL(cfg.GenerationEndpoint); err != nil {
		return nil, fmt.Errorf("generation endpoint rejected: %w", err)
	}

	return generation.NewHTTPGenerator(
		generation.HTTPGeneratorConfig{
			Endpoint:          cfg.GenerationEndpoint,
			APIKey:            cfg.GenerationAPIKey,
			RequestsPerSecond: cfg.GenerationRPS,
		},
		guard.NewSafeClient(cfg.GenerationTimeout),
		slog.Default(),
	), nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	profileRepo := repository.NewPostgresProfileRepo(db)
	vizRepo := repository.NewPostgresVisualizationRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewAnswerSanitizer()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 回答生成サービスの初期化
	generator, err := newGenerator(cfg, ssrfGuard)
	if err != nil {
		return err
	}

	// 6. セッション管理の初期化
	// コーディネーター1つにつき専属の認証プロバイダークライアントを生成する。
	// プロバイダー側セッションの所有者を1つに限定するため。
	authHTTPClient := &http.Client{Timeout: cfg.AuthTimeout}
	factory := func(ctx context.Context) (*session.Coordinator, error) {
		provider := identity.NewGoTrueClient(identity.GoTrueConfig{
			BaseURL:    cfg.AuthBaseURL,
			APIKey:     cfg.AuthAPIKey,
			HTTPClient: authHTTPClient,
		})
		return session.NewCoordinator(ctx, provider, profileRepo, collector)
	}
	manager := session.NewManager(factory, session.ManagerConfig{
		IdleTimeout:     cfg.ContextIdleTimeout,
		CleanupInterval: cfg.ContextCleanupInterval,
	})
	defer manager.Stop()

	managerAdapter := handler.NewManagerAdapter(manager)

	// 7. 質問パイプラインの初期化
	askService := ask.NewService(generator, vizRepo, sanitizer, collector)

	// 8. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.AskRate = rate.Limit(float64(cfg.RateLimitAsk) / 60.0)
	rateLimiterCfg.AskBurst = cfg.RateLimitAsk
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionResolver:   managerAdapter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		Registry:          managerAdapter,
		RedirectValidator: ssrfGuard,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			CookieMaxAge: int(cfg.ContextIdleTimeout / time.Second),
		},

		AskService:           askService,
		VisualizationService: askService,
		ProfileStore:         profileRepo,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 生成サービス呼び出しを含むため長め
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
