// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/pkgindex/internal/model"
	"github.com/hitoshi/pkgindex/internal/session"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityContextKey   = contextKey("identity")
	sessionIDContextKey  = contextKey("session_id")
	credentialContextKey = contextKey("publish_credential")
)

// SessionCookieConfig はセッションCookieの設定。
type SessionCookieConfig struct {
	MaxAge       time.Duration
	CookieSecure bool
	CookieDomain string
}

// SessionCookies はセッションCookieの発行・読み取り・削除を行う。
// Cookie値は署名付きで、セッションIDと有効期限を含む。
type SessionCookies struct {
	codec  *session.Codec
	config SessionCookieConfig
	now    func() time.Time
}

// NewSessionCookies はSessionCookiesを生成する。
func NewSessionCookies(codec *session.Codec, config SessionCookieConfig) *SessionCookies {
	return &SessionCookies{codec: codec, config: config, now: time.Now}
}

// Issue はセッションIDを署名付きCookieとして書き込む。有効期限は現在時刻からMaxAge後。
func (c *SessionCookies) Issue(w http.ResponseWriter, sessionID string) error {
	expiresAt := c.now().Add(c.config.MaxAge)
	value, err := c.codec.Encode(sessionID, expiresAt)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   c.config.CookieDomain,
		Expires:  expiresAt,
		MaxAge:   int(c.config.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read はリクエストのCookieを検証し、セッションIDと有効期限を返す。
func (c *SessionCookies) Read(r *http.Request) (string, time.Time, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", time.Time{}, session.ErrInvalidSessionCookie
	}
	return c.codec.Decode(cookie.Value)
}

// Clear はセッションCookieを削除する。
func (c *SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// NewSessionMiddleware はCookieからセッションを解決し、Identityをリクエストコンテキストに注入するミドルウェアを返す。
// セッションがない、またはCookieが不正な場合は匿名リクエストとして次に渡す。
// Cookieの残り有効期間がrenewBefore未満の場合は、再認証なしでCookieとストアの有効期限を延長する。
func NewSessionMiddleware(store *session.Store, cookies *SessionCookies, renewBefore time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			sessionID, expiresAt, err := cookies.Read(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			// 2. ストアからIdentityを取得
			identity, ok := store.Get(sessionID)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			// 3. 有効期限が近い場合はセッションを延長
			if cookies.now().Add(renewBefore).After(expiresAt) {
				if err := cookies.Issue(w, sessionID); err == nil {
					store.Put(sessionID, identity)
				}
			}

			// 4. Identityをコンテキストに注入
			annotateLogin(r.Context(), identity.User.Login)
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireSessionMiddleware はセッションのないリクエストに401を返すミドルウェアを返す。
// NewSessionMiddlewareの後に配置する。
func NewRequireSessionMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext はリクエストコンテキストからIdentityを取得する。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	return identity, ok && identity != nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
