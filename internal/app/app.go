package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/mandapadmin/internal/account"
	"github.com/hitoshi/mandapadmin/internal/adminclient"
	"github.com/hitoshi/mandapadmin/internal/approval"
	"github.com/hitoshi/mandapadmin/internal/auth"
	"github.com/hitoshi/mandapadmin/internal/config"
	"github.com/hitoshi/mandapadmin/internal/database"
	"github.com/hitoshi/mandapadmin/internal/handler"
	"github.com/hitoshi/mandapadmin/internal/logger"
	"github.com/hitoshi/mandapadmin/internal/metrics"
	"github.com/hitoshi/mandapadmin/internal/middleware"
	"github.com/hitoshi/mandapadmin/internal/model"
	"github.com/hitoshi/mandapadmin/internal/notification"
	"github.com/hitoshi/mandapadmin/internal/push"
	"github.com/hitoshi/mandapadmin/internal/repository"
	"github.com/hitoshi/mandapadmin/internal/security"
	"github.com/hitoshi/mandapadmin/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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

	// watch はAPIサーバー側の設定を必要としない
	if cmd == CommandWatch {
		return runWatch(w)
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
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newMetrics はプロセス単位のPrometheusレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// originPatterns はCORS許可オリジンからWebSocket接続を許可するホストを導出する。
func originPatterns(allowedOrigin string) []string {
	u, err := url.Parse(allowedOrigin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
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

	log := slog.Default()
	reg, collector := newMetrics()

	// 2. リポジトリの初期化
	adminRepo := repository.NewPostgresAdminRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	providerRepo := repository.NewPostgresProviderRepo(db)
	approvalRepo := repository.NewPostgresApprovalRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 3. プッシュ配信とセキュリティサービスの初期化
	registry := push.NewRegistry(cfg.PushBufferSize, log, collector)
	sanitizer := security.NewTextSanitizer()

	// 4. ドメインサービスの初期化
	authService := auth.NewService(adminRepo, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		BcryptCost:    cfg.BcryptCost,
	})
	notificationService := notification.NewService(notificationRepo, registry, log, collector)
	approvalService := approval.NewService(
		approvalRepo, providerRepo, notificationService, sanitizer,
		approval.Options{PhoneRegion: cfg.PhoneDefaultRegion, BcryptCost: cfg.BcryptCost},
		log, collector,
	)
	accountService := account.NewService(
		userRepo, providerRepo, approvalRepo, notificationService, sanitizer,
		account.Options{PhoneRegion: cfg.PhoneDefaultRegion, BcryptCost: cfg.BcryptCost},
		log,
	)

	// 5. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLogin)),
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
			SignupEnabled: cfg.AdminSignupEnabled,
		},

		AccountService:      accountService,
		ApprovalService:     approvalService,
		NotificationService: notificationService,

		PushRegistry: registry,
		PushOptions: push.HandlerOptions{
			OriginPatterns: originPatterns(cfg.CORSAllowedOrigin),
			PingInterval:   cfg.PushPingInterval,
		},
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	// WebSocket接続は長時間維持するため、WriteTimeoutは設定しない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
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

	// Shutdownはハイジャック済みのWebSocket接続を待たないので、先にプッシュ接続を閉じる
	registry.Close()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションの定期削除を行う。
// /health と /metrics を公開し、有効セッション数のゲージを提供する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	reg, collector := newMetrics()

	// 2. クリーンアップジョブの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	cleanupJob := cleanup.NewCleanupJob(db, sessionRepo, collector, slog.Default())

	// 3. 監視用エンドポイント
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

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

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker metrics shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runWatch は管理APIにログインし、プッシュイベントに追従してViewを同期し続ける。
// 一覧が更新されるたびに件数をログに出力する。保存済みのセッションがあれば再利用する。
func runWatch(w io.Writer) error {
	log := logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("failed to load client config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var session *adminclient.Session
	session, err = adminclient.NewSession(cfg.APIURL, adminclient.NewFileTokenStore(cfg.TokenFile), adminclient.SessionOptions{
		Logger: log,
		OnChange: func(c adminclient.Collection) {
			logViewChange(log, session.View, c)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create admin session: %w", err)
	}

	admin, err := session.Open(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	log.Info("watching admin events",
		slog.String("api_url", cfg.APIURL),
		slog.String("admin_id", admin.ID),
	)

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch stopped: %w", err)
	}
	log.Info("watch stopped")
	return nil
}

// logViewChange はViewのコレクション更新をログに出力する。
func logViewChange(log *slog.Logger, view *adminclient.View, c adminclient.Collection) {
	if refetchErr := view.Err(c); refetchErr != nil {
		log.Warn("view is stale",
			slog.String("collection", string(c)),
			slog.Time("failed_at", refetchErr.At),
			slog.String("error", refetchErr.Err.Error()),
		)
		return
	}

	switch c {
	case adminclient.CollectionUsers:
		log.Info("users updated", slog.Int("count", len(view.Users())))
	case adminclient.CollectionProviders:
		log.Info("providers updated", slog.Int("count", len(view.Providers())))
	case adminclient.CollectionRequests:
		counts := make(map[model.ApprovalStatus]int)
		for _, r := range view.Requests() {
			counts[r.Status]++
		}
		log.Info("approval requests updated",
			slog.Int("pending", counts[model.ApprovalPending]),
			slog.Int("approved", counts[model.ApprovalApproved]),
			slog.Int("rejected", counts[model.ApprovalRejected]),
		)
	}
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(databaseURL string) string {
	if len(databaseURL) > 20 {
		return databaseURL[:12] + "***@..."
	}
	return "***"
}
