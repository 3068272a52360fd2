// Package app は設定の読み込みから各サブコマンドの起動までを担う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/hopehub/internal/auth"
	"github.com/hitoshi/hopehub/internal/config"
	"github.com/hitoshi/hopehub/internal/database"
	"github.com/hitoshi/hopehub/internal/handler"
	"github.com/hitoshi/hopehub/internal/logger"
	"github.com/hitoshi/hopehub/internal/mail"
	"github.com/hitoshi/hopehub/internal/metrics"
	"github.com/hitoshi/hopehub/internal/middleware"
	"github.com/hitoshi/hopehub/internal/post"
	"github.com/hitoshi/hopehub/internal/repository"
	"github.com/hitoshi/hopehub/internal/security"
	"github.com/hitoshi/hopehub/internal/submission"
	"github.com/hitoshi/hopehub/internal/worker/cleanup"
	"github.com/hitoshi/hopehub/internal/worker/outbox"
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
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newMetricsRegistry はプロセス・Goランタイムの標準メトリクスを含むレジストリを生成する。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// rateLimits は設定値（1分あたりの回数）からレート制限ポリシーを組み立てる。
func rateLimits(cfg *config.Config) middleware.RateLimiterConfig {
	limits := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		limits.General.Limit = cfg.RateLimitGeneral
	}
	if cfg.RateLimitForms > 0 {
		limits.Forms.Limit = cfg.RateLimitForms
	}
	if cfg.RateLimitLogin > 0 {
		limits.Login.Limit = cfg.RateLimitLogin
	}
	return limits
}

// newRateLimitStore はREDIS_URLが設定されていればRedis、なければプロセス内のストアを返す。
// 戻り値のcloseは終了時に呼び出す。
func newRateLimitStore(cfg *config.Config) (middleware.RateLimitStore, func(), error) {
	if cfg.RedisURL == "" {
		store := middleware.NewMemoryStore(5 * time.Minute)
		return store, store.Stop, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	return middleware.NewRedisStore(client), closeFn, nil
}

// newMailer は設定に応じたMailerを生成する。HTTPドライバーにはSSRF対策済みのクライアントを使う。
func newMailer(cfg *config.Config, log *slog.Logger) (mail.Mailer, error) {
	return mail.New(cfg.MailDriver,
		mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		},
		mail.HTTPConfig{
			Endpoint: cfg.MailAPIURL,
			APIKey:   cfg.MailAPIKey,
			From:     cfg.MailFrom,
		},
		mail.Dependencies{
			HTTPClient: security.NewSSRFGuard().NewSafeClient(cfg.MailTimeout),
			Logger:     log,
		},
	)
}

// buildRouter はAPIサーバーの全依存関係をワイヤリングしてルーターを返す。
func buildRouter(cfg *config.Config, db *sql.DB, store middleware.RateLimitStore, reg *prometheus.Registry) (http.Handler, *auth.Service, error) {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	submissionRepo := repository.NewPostgresSubmissionRepo(db)

	// 2. 認証
	tokens := auth.NewTokenService(cfg.JWTSecret)
	authService := auth.NewService(userRepo, tokens, auth.ServiceConfig{BcryptCost: cfg.BcryptCost})

	// 3. 投稿
	postService := post.NewService(postRepo, security.NewContentSanitizer(), security.NewSSRFGuard(),
		post.WithMetrics(collector))

	// 4. フォーム
	renderer, err := mail.NewRenderer(mail.SiteInfo{Name: cfg.SiteName, BaseURL: cfg.BaseURL})
	if err != nil {
		return nil, nil, err
	}
	formService := submission.NewService(submissionRepo, renderer,
		submission.WithMetrics(collector),
		submission.WithStaffEmail(cfg.StaffEmail),
	)

	// 5. ルーター
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Guard:             middleware.NewGuard(tokens, middleware.DefaultRouteTable(), middleware.WithGuardMetrics(collector)),
		RateLimiter:       middleware.NewRateLimiter(store, collector),
		RateLimits:        rateLimits(cfg),
		CSRFConfig:        middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cfg.CookieDomain},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       authService,
		AuthConfig:        handler.AuthHandlerConfig{CookieDomain: cfg.CookieDomain, CookieSecure: cfg.CookieSecure},
		PostService:       postService,
		FormService:       formService,
		Feed:              handler.FeedConfig{SiteName: cfg.SiteName, BaseURL: cfg.BaseURL},
		DB:                db,
	})

	return router, authService, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	store, closeStore, err := newRateLimitStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	router, authService, err := buildRouter(cfg, db, store, newMetricsRegistry())
	if err != nil {
		return err
	}

	// 初回起動時の管理者アカウント
	if err := authService.EnsureAdmin(context.Background(), cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("failed to bootstrap admin account: %w", err)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

// runWorker はワーカーモードで起動する。
// outboxのメール送信と送信済みメールのクリーンアップを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	mailer, err := newMailer(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create mailer: %w", err)
	}

	reg := newMetricsRegistry()
	collector := metrics.NewCollector(reg)

	dispatcher := outbox.NewDispatcher(
		repository.NewPostgresOutboxRepo(db), mailer, slog.Default(),
		outbox.Config{
			BatchSize:      cfg.OutboxBatchSize,
			MaxConcurrency: cfg.OutboxMaxConcurrent,
			SendTimeout:    cfg.MailTimeout,
		},
		outbox.WithMetrics(collector),
	)
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), cfg.OutboxRetentionDays)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	if cfg.WorkerMetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server listen error", slog.String("error", err.Error()))
			}
		}()
		defer metricsServer.Close()
	}

	slog.Info("worker starting",
		slog.String("mail_driver", cfg.MailDriver),
		slog.Duration("outbox_interval", cfg.OutboxInterval),
		slog.Int("max_concurrent", cfg.OutboxMaxConcurrent),
	)

	// クリーンアップジョブをバックグラウンドで実行
	go cleanupJob.Start(ctx, cfg.OutboxCleanupInterval)

	// 送信ループをメインgoroutineで実行（ブロッキング）
	dispatcher.Start(ctx, cfg.OutboxInterval)

	slog.Info("worker stopped gracefully")
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
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
