package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pkgindex/internal/middleware"
	"github.com/hitoshi/pkgindex/internal/session"
)

// publishRealm はパブリッシュのBasic認証で返すrealm。
const publishRealm = "pkgindex publish"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	SessionStore       *session.Store
	SessionCookies     *middleware.SessionCookies
	SessionRenewBefore time.Duration
	CSRF               middleware.CSRFConfig
	CORSAllowedOrigin  string
	SecureHeaders      bool
	RateLimiter        *middleware.RateLimiter

	// 認証
	AuthService   AuthServiceInterface
	AuthConfig    AuthHandlerConfig
	LoginRecorder LoginRecorder

	// パブリッシュ
	CredentialVerifier middleware.CredentialVerifier
	CredentialRecorder middleware.CredentialRecorder
	PublishService     PublishServiceInterface

	// プロジェクト編集
	ProjectService  ProjectServiceInterface
	EditSettleDelay time.Duration

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session
//
// 編集ルートはさらに CSRF を通し、認可はプロジェクトサービスで判定する。
// パブリッシュ（PUT）は RateLimit(Client) → BasicAuth → RateLimit(Publish) を通す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecureHeaders))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSessionMiddleware(deps.SessionStore, deps.SessionCookies, deps.SessionRenewBefore))

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionCookies, deps.LoginRecorder, deps.AuthConfig)
	publishHandler := NewPublishHandler(deps.PublishService)
	editHandler := NewEditHandler(deps.ProjectService, deps.EditSettleDelay)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// OAuthフロー
	r.Get("/login", authHandler.Login)
	r.Get("/callback", authHandler.Callback)
	r.With(middleware.NewRequireSessionMiddleware()).Get("/logout", authHandler.Logout)

	// --- パブリッシュ ---
	r.Get("/publish", publishHandler.Probe)
	r.With(
		deps.RateLimiter.ClientMiddleware(),
		middleware.NewBasicAuthMiddleware(deps.CredentialVerifier, deps.CredentialRecorder, publishRealm),
		deps.RateLimiter.PublishMiddleware(),
	).Put("/publish", publishHandler.Publish)

	// --- プロジェクト編集 ---
	// セッションがない場合もCanEditがfalseとなり、403を返す。
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Route("/edit/{owner}/{repo}", func(r chi.Router) {
			r.Get("/", editHandler.GetForm)
			r.Post("/", editHandler.UpdateForm)
		})
	})

	return r
}
