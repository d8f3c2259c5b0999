package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mandapadmin/internal/metrics"
	"github.com/hitoshi/mandapadmin/internal/middleware"
	"github.com/hitoshi/mandapadmin/internal/push"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker はDB疎通確認のためのインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.Recorder
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// アカウント
	AccountService AccountServiceInterface

	// 承認
	ApprovalService ApprovalServiceInterface

	// 通知
	NotificationService NotificationServiceInterface

	// プッシュ
	PushRegistry *push.Registry
	PushOptions  push.HandlerOptions
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Logging → Recovery → Session → RequireAdmin → RateLimit(General) → CSRF
//
// ログイン・サインアップ・CSRFトークン取得はセッション不要のルートに配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, rec))
	r.Use(middleware.NewRecoveryMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	accountHandler := NewAccountHandler(deps.AccountService)
	approvalHandler := NewApprovalHandler(deps.ApprovalService)
	notificationHandler := NewNotificationHandler(deps.NotificationService)
	pushHandler := push.NewHandler(deps.PushRegistry, identityFromRequest, deps.PushOptions, logger)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/admin", func(r chi.Router) {
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/signup", authHandler.Signup)
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RequireAdmin → RateLimit(General) → CSRF
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(middleware.RequireAdmin)
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)

			// アカウント
			r.Post("/add-user", accountHandler.AddUser)
			r.Get("/users", accountHandler.ListUsers)
			r.Get("/providers", accountHandler.ListProviders)
			r.Get("/search-users", accountHandler.SearchUsers)
			r.Get("/search-providers", accountHandler.SearchProviders)
			r.Get("/stats", accountHandler.Stats)

			// 承認
			r.Post("/add-provider", approvalHandler.AddProvider)
			r.Get("/approval-requests", approvalHandler.ListRequests)
			r.Post("/approve-request", approvalHandler.Decide)

			// 通知
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationHandler.List)
				r.Get("/summary", notificationHandler.Summary)
				r.Post("/mark-read", notificationHandler.MarkRead)
				r.Post("/mark-all-read", notificationHandler.MarkAllRead)
			})

			// プッシュ
			r.Method(http.MethodGet, "/socket", pushHandler)
		})
	})

	return r
}

// identityFromRequest はセッションミドルウェアが注入した管理者をプッシュ接続の所有者とする。
func identityFromRequest(r *http.Request) (push.Identity, bool) {
	adminID, err := middleware.AdminIDFromContext(r.Context())
	if err != nil {
		return push.Identity{}, false
	}
	role, ok := middleware.RoleFromContext(r.Context())
	if !ok {
		return push.Identity{}, false
	}
	return push.Identity{Role: role, ID: adminID}, true
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				status["status"] = "unavailable"
				writeJSON(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		writeJSON(w, http.StatusOK, status)
	}
}
