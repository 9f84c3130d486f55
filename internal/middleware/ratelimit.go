package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	PublishRate     rate.Limit    // パブリッシュのレート（req/sec）。60/60 = 1 req/sec
	PublishBurst    int           // パブリッシュのバーストサイズ
	ClientRate      rate.Limit    // 資格情報検証前のクライアントIPごとのレート（req/sec）。0なら制限しない
	ClientBurst     int           // クライアントIPごとのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// パブリッシュ 60 req/min/publisher、クライアント 60 req/min/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PublishRateLimiterConfig(60)
}

// PublishRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を生成する。
func PublishRateLimiterConfig(perMinute int) RateLimiterConfig {
	if perMinute < 1 {
		perMinute = 1
	}
	return RateLimiterConfig{
		PublishRate:     rate.Limit(float64(perMinute) / 60.0),
		PublishBurst:    perMinute,
		ClientRate:      rate.Limit(float64(perMinute) / 60.0),
		ClientBurst:     perMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyedLimiter はキー（パブリッシャーまたはクライアントIP）ごとのレートリミッターとアクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はパブリッシャー（Basic認証のユーザー名）ごとと、
// 資格情報検証前のクライアントIPごとのレート制限を管理する。
type RateLimiter struct {
	config RateLimiterConfig

	mu             sync.Mutex
	limiters       map[string]*keyedLimiter
	clientLimiters map[string]*keyedLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:         config,
		limiters:       make(map[string]*keyedLimiter),
		clientLimiters: make(map[string]*keyedLimiter),
		stopCh:         make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// PublishMiddleware はパブリッシュ用のレート制限ミドルウェアを返す。
// 検証済みの資格情報がコンテキストに必要（BasicAuthMiddlewareの後に配置）。
func (rl *RateLimiter) PublishMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, ok := CredentialFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !rl.limiterFor(credential.Username).Allow() {
				writeRateLimitResponse(w, rl.config.PublishRate)
				slog.Warn("rate limit exceeded",
					slog.String("publisher", credential.Username),
					slog.String("limit_type", "publish"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientMiddleware はクライアントIPごとのレート制限ミドルウェアを返す。
// 資格情報の検証はIdPへの呼び出しを伴うため、BasicAuthMiddlewareの前に配置し、
// 不正な資格情報の連続送信も制限する。ClientRateが0の場合は制限しない。
func (rl *RateLimiter) ClientMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.config.ClientRate <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			if !rl.clientLimiterFor(ip).Allow() {
				writeRateLimitResponse(w, rl.config.ClientRate)
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "client"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP はRemoteAddrからクライアントIPを取り出す。
// X-Forwarded-Forは偽装できるため参照しない。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientLimiterCount は現在管理されているクライアントIPリミッターのエントリ数を返す。
func (rl *RateLimiter) ClientLimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clientLimiters)
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// limiterFor はパブリッシャーのリミッターを取得または作成する。
func (rl *RateLimiter) limiterFor(publisher string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return getOrCreate(rl.limiters, publisher, rl.config.PublishRate, rl.config.PublishBurst)
}

// clientLimiterFor はクライアントIPのリミッターを取得または作成する。
func (rl *RateLimiter) clientLimiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return getOrCreate(rl.clientLimiters, ip, rl.config.ClientRate, rl.config.ClientBurst)
}

// getOrCreate はmからkeyのリミッターを取得し、なければ作成する。呼び出し側でロックを保持すること。
func getOrCreate(m map[string]*keyedLimiter, key string, r rate.Limit, burst int) *rate.Limiter {
	if kl, exists := m[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(r, burst)
	m[key] = &keyedLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, m := range []map[string]*keyedLimiter{rl.limiters, rl.clientLimiters} {
		for key, kl := range m {
			if now.Sub(kl.lastAccess) > ttl {
				delete(m, key)
			}
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
