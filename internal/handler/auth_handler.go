// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/pkgindex/internal/middleware"
	"github.com/hitoshi/pkgindex/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(state string) string
	Login(ctx context.Context, code string) (string, *model.Identity, error)
	Logout(sessionID string)
}

// LoginRecorder はログイン結果を記録する。metrics.Collectorが満たす。
type LoginRecorder interface {
	RecordLogin(success bool)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieSecure bool
	CSRF         middleware.CSRFConfig
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	cookies  *middleware.SessionCookies
	recorder LoginRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies *middleware.SessionCookies, recorder LoginRecorder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		cookies:  cookies,
		recorder: recorder,
		config:   config,
	}
}

// Login はGitHub OAuthフローを開始する。
// GET /login
// stateにはログイン後に戻るページ（Referer）を入れ、同じ値をCookieにも保存してコールバックで照合する。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := h.safeRedirect(r.Referer())

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    url.QueryEscape(state),
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.LoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの照合
	// ログインCSRF対策として、stateとoauth_state Cookieの両方が揃って一致する場合のみ受け付ける。
	// stateのないコールバックは/login経由でないため400とする。
	state := r.URL.Query().Get("state")
	if !h.stateMatches(r, state) {
		slog.Warn("oauth state mismatch")
		h.recorder.RecordLogin(false)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewLoginFailedError())
		return
	}
	h.clearStateCookie(w)

	// 2. 認可コードの交換とセッション作成
	sessionID, identity, err := h.service.Login(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		slog.Warn("oauth callback failed", slog.String("error", err.Error()))
		h.recorder.RecordLogin(false)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewLoginFailedError())
		return
	}

	// 3. セッションCookieとCSRFトークンを発行
	if err := h.cookies.Issue(w, sessionID); err != nil {
		slog.Error("failed to issue session cookie", slog.String("error", err.Error()))
		h.service.Logout(sessionID)
		middleware.WriteInternalServerError(w)
		return
	}
	if _, err := middleware.IssueCSRFToken(w, h.config.CSRF); err != nil {
		slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
	}

	h.recorder.RecordLogin(true)
	slog.Info("login completed", slog.String("login", identity.User.Login))

	// 4. ログイン前のページに戻す
	http.Redirect(w, r, h.safeRedirect(state), http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄し、直前のページに戻す。
// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(middleware.SessionIDFromContext(r.Context()))
	h.cookies.Clear(w)
	http.Redirect(w, r, h.safeRedirect(r.Referer()), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) stateMatches(r *http.Request, state string) bool {
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		return false
	}
	stored, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return false
	}
	return stored == state
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// safeRedirect はリダイレクト先として安全な値を返す。
// 相対パスとBASE_URLと同一オリジンのURLのみ許可し、それ以外は"/"を返す。
func (h *AuthHandler) safeRedirect(target string) string {
	if target == "" {
		return "/"
	}
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\") {
		return target
	}

	u, err := url.Parse(target)
	if err != nil {
		return "/"
	}
	base, err := url.Parse(h.config.BaseURL)
	if err != nil || base.Host == "" {
		return "/"
	}
	if strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host) {
		return target
	}
	return "/"
}
