package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pkgindex/internal/auth"
	"github.com/hitoshi/pkgindex/internal/metrics"
	"github.com/hitoshi/pkgindex/internal/middleware"
	"github.com/hitoshi/pkgindex/internal/model"
	"github.com/hitoshi/pkgindex/internal/project"
	"github.com/hitoshi/pkgindex/internal/publish"
	"github.com/hitoshi/pkgindex/internal/repository"
	"github.com/hitoshi/pkgindex/internal/security"
	"github.com/hitoshi/pkgindex/internal/session"
)

// --- インメモリのフェイク ---

type fakeProvider struct {
	authCalls atomic.Int32
}

func (*fakeProvider) AuthCodeURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + url.QueryEscape(state)
}

func (*fakeProvider) Info(_ context.Context, code string) (*auth.Profile, error) {
	if code != "good-code" {
		return nil, errors.New("bad_verification_code")
	}
	return &auth.Profile{
		User:  model.UserInfo{Login: "alice", Name: "Alice"},
		Repos: []model.GithubRepo{{Owner: "scala", Name: "scala"}},
	}, nil
}

func (p *fakeProvider) Authenticate(_ context.Context, c model.PublishCredential) (bool, error) {
	p.authCalls.Add(1)
	return c.Username == "alice" && c.Secret == "good-token", nil
}

func (*fakeProvider) ClientID() string { return "client-id" }

type memReleaseRepo struct {
	mu       sync.Mutex
	releases map[string]*model.PublishRequest
}

func (m *memReleaseRepo) Exists(_ context.Context, coord model.MavenCoordinate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.releases[coord.String()]
	return ok, nil
}

func (m *memReleaseRepo) Store(_ context.Context, req *model.PublishRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[req.Coordinate.String()] = req
	return nil
}

type memProjectRepo struct {
	mu       sync.Mutex
	projects map[string]*model.Project
}

func (m *memProjectRepo) FindByRepo(_ context.Context, repo model.GithubRepo) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[repo.Key()]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memProjectRepo) UpdateForm(_ context.Context, repo model.GithubRepo, form model.ProjectForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[repo.Key()]
	if !ok {
		return model.ErrNotFound
	}
	p.Form = form
	return nil
}

var (
	_ repository.ReleaseRepository = (*memReleaseRepo)(nil)
	_ repository.ProjectRepository = (*memProjectRepo)(nil)
	_ auth.IdentityProvider        = (*fakeProvider)(nil)
)

type testServer struct {
	handler  http.Handler
	store    *session.Store
	projects *memProjectRepo
	provider *fakeProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimits(t, middleware.DefaultRateLimiterConfig())
}

func newTestServerWithLimits(t *testing.T, limits middleware.RateLimiterConfig) *testServer {
	t.Helper()

	store := session.NewStore(time.Hour, time.Hour)
	cookies := newTestCookies()
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry, store)

	releases := &memReleaseRepo{releases: make(map[string]*model.PublishRequest)}
	projects := &memProjectRepo{projects: map[string]*model.Project{
		"scala/scala":    {Repo: model.GithubRepo{Owner: "scala", Name: "scala"}},
		"typelevel/cats": {Repo: model.GithubRepo{Owner: "typelevel", Name: "cats"}},
	}}

	provider := &fakeProvider{}
	authService := auth.NewService(provider, store)
	limiter := middleware.NewRateLimiter(limits)
	t.Cleanup(limiter.Stop)

	guard := security.NewLinkGuard()
	handler := NewRouter(&RouterDeps{
		SessionStore:       store,
		SessionCookies:     cookies,
		SessionRenewBefore: 10 * time.Minute,
		RateLimiter:        limiter,

		AuthService:   authService,
		AuthConfig:    AuthHandlerConfig{BaseURL: "https://index.example.com"},
		LoginRecorder: collector,

		CredentialVerifier: authService,
		CredentialRecorder: collector,
		PublishService:     publish.NewService(releases, collector),

		ProjectService: project.NewService(projects, guard, security.NewTextSanitizer()),

		MetricsHandler: metrics.Handler(registry),
	})

	return &testServer{handler: handler, store: store, projects: projects, provider: provider}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// login はOAuthフローを通してセッションCookieとCSRF Cookieを取得する。
func (s *testServer) login(t *testing.T) []*http.Cookie {
	t.Helper()

	loginReq := httptest.NewRequest(http.MethodGet, "/login", nil)
	loginReq.Header.Set("Referer", "/scala/scala")
	loginRec := s.do(loginReq)
	if loginRec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("/login status = %d", loginRec.Code)
	}
	location, err := url.Parse(loginRec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	state := location.Query().Get("state")

	cbReq := httptest.NewRequest(http.MethodGet, "/callback?code=good-code&state="+url.QueryEscape(state), nil)
	for _, c := range loginRec.Result().Cookies() {
		cbReq.AddCookie(c)
	}
	cbRec := s.do(cbReq)
	if cbRec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("/callback status = %d, body = %s", cbRec.Code, cbRec.Body.String())
	}
	if cbRec.Header().Get("Location") != "/scala/scala" {
		t.Errorf("callback Location = %q", cbRec.Header().Get("Location"))
	}

	var out []*http.Cookie
	for _, c := range cbRec.Result().Cookies() {
		if c.Name == "session_id" || c.Name == "csrf_token" {
			out = append(out, c)
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected session and CSRF cookies, got %v", out)
	}
	return out
}

func withCookies(req *http.Request, cookies []*http.Cookie) *http.Request {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func csrfToken(cookies []*http.Cookie) string {
	if c := findCookie(cookies, "csrf_token"); c != nil {
		return c.Value
	}
	return ""
}

func basicAuth(user, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+secret))
}

// --- パブリッシュ ---

func TestRouter_PublishFlow(t *testing.T) {
	s := newTestServer(t)
	probe := func() int {
		return s.do(httptest.NewRequest(http.MethodGet, "/publish?path="+testPomPath, nil)).Code
	}

	t.Run("未公開の座標は404", func(t *testing.T) {
		if code := probe(); code != http.StatusNotFound {
			t.Errorf("probe status = %d, want 404", code)
		}
	})

	t.Run("資格情報なしは401とWWW-Authenticate", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodPut, "/publish?path="+testPomPath, strings.NewReader("<project/>")))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Basic realm=") {
			t.Errorf("WWW-Authenticate = %q", rec.Header().Get("WWW-Authenticate"))
		}
	})

	t.Run("拒否された資格情報は401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/publish?path="+testPomPath, strings.NewReader("<project/>"))
		req.Header.Set("Authorization", basicAuth("alice", "wrong"))
		if rec := s.do(req); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if code := probe(); code != http.StatusNotFound {
			t.Errorf("rejected publish must not store: probe = %d", code)
		}
	})

	t.Run("ディスクリプタを公開すると201で以降の確認は200", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/publish?path="+testPomPath, strings.NewReader("<project/>"))
		req.Header.Set("Authorization", basicAuth("alice", "good-token"))
		if rec := s.do(req); rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 (body = %s)", rec.Code, rec.Body.String())
		}
		if code := probe(); code != http.StatusOK {
			t.Errorf("probe status = %d, want 200", code)
		}
	})

	t.Run("不正なパスは400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/publish?path=/lib/1.0.0/lib.pom", strings.NewReader("<project/>"))
		req.Header.Set("Authorization", basicAuth("alice", "good-token"))
		if rec := s.do(req); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if rec := s.do(httptest.NewRequest(http.MethodGet, "/publish?path=/lib.pom", nil)); rec.Code != http.StatusBadRequest {
			t.Errorf("probe status = %d, want 400", rec.Code)
		}
	})

	t.Run("メトリクスに結果が記録される", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("/metrics status = %d", rec.Code)
		}
		body := rec.Body.String()
		for _, want := range []string{
			`pkgindex_publish_total{outcome="complete"} 1`,
			`pkgindex_publish_total{outcome="rejected_malformed"} 1`,
			`pkgindex_credential_check_total{result="denied"}`,
		} {
			if !strings.Contains(body, want) {
				t.Errorf("metrics missing %q", want)
			}
		}
	})
}

func TestRouter_PublishThrottlesClientBeforeCredentialCheck(t *testing.T) {
	limits := middleware.DefaultRateLimiterConfig()
	limits.ClientRate = 0.01
	limits.ClientBurst = 3
	s := newTestServerWithLimits(t, limits)

	var codes []int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPut, "/publish?path="+testPomPath, strings.NewReader("<project/>"))
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("Authorization", basicAuth("alice", "wrong"))
		codes = append(codes, s.do(req).Code)
	}

	want := []int{
		http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized,
		http.StatusTooManyRequests, http.StatusTooManyRequests,
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, codes[i], want[i])
		}
	}
	if got := s.provider.authCalls.Load(); got != 3 {
		t.Errorf("credential checks = %d, want 3 (throttled requests must not reach the provider)", got)
	}
}

// --- ログインと編集 ---

func TestRouter_EditWithoutSessionIsForbidden(t *testing.T) {
	s := newTestServer(t)

	t.Run("フォーム取得は403", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/edit/scala/scala", nil))
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), model.ErrCodeForbidden) {
			t.Errorf("body = %s, want code %s", rec.Body.String(), model.ErrCodeForbidden)
		}
	})

	t.Run("CSRFトークンが正しくてもセッションなしの送信は403で何も変更しない", func(t *testing.T) {
		const token = "csrf-token-without-session"
		form := url.Values{"keywords": {"hacked"}, "csrf_token": {token}}
		req := httptest.NewRequest(http.MethodPost, "/edit/scala/scala", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: token})

		rec := s.do(req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403 (body = %s)", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), model.ErrCodeForbidden) {
			t.Errorf("body = %s, want code %s", rec.Body.String(), model.ErrCodeForbidden)
		}
		if kw := s.projects.projects["scala/scala"].Form.Keywords; len(kw) != 0 {
			t.Errorf("edit without session was applied: %v", kw)
		}
	})

	t.Run("ログアウトはセッションなしなら401", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/logout", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestRouter_LoginAndEdit(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t)

	if s.store.Len() != 1 {
		t.Fatalf("store.Len() = %d, want 1", s.store.Len())
	}

	t.Run("管理リポジトリの編集フォームを取得できる", func(t *testing.T) {
		rec := s.do(withCookies(httptest.NewRequest(http.MethodGet, "/edit/scala/scala", nil), cookies))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("CSRFトークンなしの送信は403", func(t *testing.T) {
		form := url.Values{"keywords": {"compiler"}}
		req := httptest.NewRequest(http.MethodPost, "/edit/scala/scala", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := s.do(withCookies(req, cookies))
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("管理していないリポジトリの送信は403で何も変更しない", func(t *testing.T) {
		form := url.Values{"keywords": {"hacked"}, "csrf_token": {csrfToken(cookies)}}
		req := httptest.NewRequest(http.MethodPost, "/edit/typelevel/cats", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := s.do(withCookies(req, cookies))
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
		if kw := s.projects.projects["typelevel/cats"].Form.Keywords; len(kw) != 0 {
			t.Errorf("unauthorized edit was applied: %v", kw)
		}
	})

	t.Run("編集を送信すると303でプロジェクトページへ", func(t *testing.T) {
		form := url.Values{
			"keywords":           {"compiler", "<b>language</b>"},
			"contributorsWanted": {"on"},
			"documentationLinks": {"Docs|https://docs.scala-lang.org"},
		}
		req := httptest.NewRequest(http.MethodPost, "/edit/scala/scala", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-CSRF-Token", csrfToken(cookies))
		rec := s.do(withCookies(req, cookies))

		if rec.Code != http.StatusSeeOther {
			t.Fatalf("status = %d, want 303 (body = %s)", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("Location") != "/scala/scala" {
			t.Errorf("Location = %q", rec.Header().Get("Location"))
		}

		got := s.projects.projects["scala/scala"].Form
		if !got.ContributorsWanted || len(got.Keywords) != 2 || got.Keywords[1] != "language" {
			t.Errorf("form = %+v", got)
		}
	})

	t.Run("ログアウトでセッションが破棄される", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/logout", nil)
		req.Header.Set("Referer", "/scala/scala")
		rec := s.do(withCookies(req, cookies))
		if rec.Code != http.StatusTemporaryRedirect {
			t.Fatalf("status = %d", rec.Code)
		}
		if s.store.Len() != 0 {
			t.Errorf("store.Len() = %d, want 0", s.store.Len())
		}

		after := s.do(withCookies(httptest.NewRequest(http.MethodGet, "/edit/scala/scala", nil), cookies))
		if after.Code != http.StatusForbidden {
			t.Errorf("edit after logout status = %d, want 403", after.Code)
		}
	})
}

func TestRouter_CallbackWithBadCode(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/callback?code=bad&state=%2F", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: url.QueryEscape("/")})
	rec := s.do(req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if s.store.Len() != 0 {
		t.Errorf("no session should be created, store.Len() = %d", s.store.Len())
	}
}

func TestRouter_CallbackWithoutState(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/callback?code=good-code", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if s.store.Len() != 0 {
		t.Errorf("no session should be created, store.Len() = %d", s.store.Len())
	}
}

// --- 運用エンドポイント ---

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
	}{
		{"DB疎通ありは200", &mockHealthChecker{}, http.StatusOK},
		{"DB疎通なしは503", &mockHealthChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checker)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_SecurityHeadersAndCSRFToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/csrf-token", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"token"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied")
	}
}
