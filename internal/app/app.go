// Package app はアプリケーションの初期化、依存関係のワイヤリング、起動モードの切り替えを提供する。
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

	"github.com/hitoshi/pkgindex/internal/auth"
	"github.com/hitoshi/pkgindex/internal/config"
	"github.com/hitoshi/pkgindex/internal/database"
	"github.com/hitoshi/pkgindex/internal/handler"
	"github.com/hitoshi/pkgindex/internal/logger"
	"github.com/hitoshi/pkgindex/internal/metrics"
	"github.com/hitoshi/pkgindex/internal/middleware"
	"github.com/hitoshi/pkgindex/internal/project"
	"github.com/hitoshi/pkgindex/internal/publish"
	"github.com/hitoshi/pkgindex/internal/repository"
	"github.com/hitoshi/pkgindex/internal/security"
	"github.com/hitoshi/pkgindex/internal/session"
)

// sessionCleanupInterval は期限切れセッションを掃除する間隔。
const sessionCleanupInterval = 10 * time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. .envで指定されたLOG_LEVELも反映する
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

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスレジストリ
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 3. サーバーの構築
	srv, cleanup := newServer(cfg, db, registry)
	defer cleanup()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newServer は全依存関係をワイヤリングしたHTTPサーバーを生成する。
// セッションストアはここで1つだけ生成し、プロセスが終了するまで使い続ける。
// 返り値のcleanupはバックグラウンド処理を停止する。
func newServer(cfg *config.Config, db *sql.DB, registry *prometheus.Registry) (*http.Server, func()) {
	// 1. リポジトリの初期化
	releaseRepo := repository.NewPostgresReleaseRepo(db)
	projectRepo := repository.NewPostgresProjectRepo(db)

	// 2. セッション
	store := session.NewStore(cfg.SessionMaxAgeDuration(), sessionCleanupInterval)
	cookies := middleware.NewSessionCookies(session.NewCodec(cfg.SessionSecret), middleware.SessionCookieConfig{
		MaxAge:       cfg.SessionMaxAgeDuration(),
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})

	// 3. メトリクス
	collector := metrics.NewCollector(registry, store)

	// 4. セキュリティサービスの初期化
	linkGuard := security.NewLinkGuard()
	sanitizer := security.NewTextSanitizer()

	// 5. ドメインサービスの初期化
	provider := auth.NewGitHubProvider(auth.GitHubConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
		AdminOrg:     cfg.GitHubAdminOrg,
		HTTPClient:   linkGuard.NewSafeClient(cfg.IdPTimeout),
	})
	authService := auth.NewService(provider, store)
	publishService := publish.NewService(releaseRepo, collector)
	projectService := project.NewService(projectRepo, linkGuard, sanitizer)

	// 6. ルーターの構築
	csrf := middleware.CSRFConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}
	rateLimiter := middleware.NewRateLimiter(middleware.PublishRateLimiterConfig(cfg.RateLimitPublish))

	deps := &handler.RouterDeps{
		Logger:             slog.Default(),
		SessionStore:       store,
		SessionCookies:     cookies,
		SessionRenewBefore: cfg.SessionRenewBefore,
		CSRF:               csrf,
		CORSAllowedOrigin:  cfg.CORSAllowedOrigin,
		SecureHeaders:      cfg.CookieSecure,
		RateLimiter:        rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieSecure: cfg.CookieSecure,
			CSRF:         csrf,
		},
		LoginRecorder: collector,

		CredentialVerifier: authService,
		CredentialRecorder: collector,
		PublishService:     publishService,

		ProjectService:  projectService,
		EditSettleDelay: cfg.EditSettleDelay,

		HealthChecker:  db,
		MetricsHandler: metrics.SetupMetricsRoute(registry),
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + cfg.EditSettleDelay,
		IdleTimeout:  60 * time.Second,
	}

	return srv, rateLimiter.Stop
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

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLから認証情報とクエリを取り除く。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
