package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/pkgindex/internal/model"
)

const (
	defaultGitHubAPIURL = "https://api.github.com"
	githubScope         = "read:org"
	reposPerPage        = 100
)

// GitHubConfig はGitHub OAuthプロバイダーの設定。
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// AdminOrg に所属するユーザーは全プロジェクトの管理者として扱う。
	AdminOrg string

	// テスト用にオーバーライド可能なURLとクライアント
	AuthURL    string
	TokenURL   string
	APIBaseURL string
	HTTPClient *http.Client
}

// GitHubProvider はGitHub OAuthによるログインと、パブリッシュ資格情報の検証を提供する。
type GitHubProvider struct {
	oauth      *oauth2.Config
	apiBaseURL string
	adminOrg   string
	client     *http.Client
}

// NewGitHubProvider はGitHubProviderを生成する。
// HTTPClientが未指定の場合はhttp.DefaultClientを使用する。
func NewGitHubProvider(config GitHubConfig) *GitHubProvider {
	endpoint := github.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultGitHubAPIURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	return &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{githubScope},
		},
		apiBaseURL: strings.TrimRight(config.APIBaseURL, "/"),
		adminOrg:   config.AdminOrg,
		client:     config.HTTPClient,
	}
}

// ClientID はOAuthアプリケーションのクライアントIDを返す。
func (p *GitHubProvider) ClientID() string {
	return p.oauth.ClientID
}

// AuthCodeURL はGitHubの認可画面URLを生成する。
func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

type githubUser struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubOrg struct {
	Login string `json:"login"`
}

type githubRepo struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	Permissions struct {
		Admin bool `json:"admin"`
		Push  bool `json:"push"`
	} `json:"permissions"`
}

// Info は認可コードをアクセストークンに交換し、ユーザー情報と管理可能なリポジトリを取得する。
func (p *GitHubProvider) Info(ctx context.Context, code string) (*Profile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	// 1. 認可コードをアクセストークンに交換
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	client := p.oauth.Client(ctx, token)

	// 2. ユーザー、所属組織、リポジトリを並行して取得
	var (
		user  githubUser
		orgs  []githubOrg
		repos []model.GithubRepo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.getJSON(gctx, client, "/user", &user)
	})
	g.Go(func() error {
		return p.getJSON(gctx, client, "/user/orgs", &orgs)
	})
	g.Go(func() error {
		var err error
		repos, err = p.fetchRepos(gctx, client)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if user.Login == "" {
		return nil, fmt.Errorf("empty login in user response")
	}

	return &Profile{
		User: model.UserInfo{
			Login:     user.Login,
			Name:      user.Name,
			AvatarURL: user.AvatarURL,
			IsAdmin:   p.isAdminMember(orgs),
		},
		Repos: repos,
	}, nil
}

// Authenticate はBasic認証の資格情報でGitHub APIを呼び出し、有効かどうかを判定する。
// 200は有効、401/403は無効、それ以外はエラーとして扱う。
func (p *GitHubProvider) Authenticate(ctx context.Context, credential model.PublishCredential) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+"/user", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create user request: %w", err)
	}
	req.SetBasicAuth(credential.Username, credential.Secret)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status from credential check: %d", resp.StatusCode)
	}
}

// fetchRepos はadminまたはpush権限を持つリポジトリをすべてのページから取得する。
func (p *GitHubProvider) fetchRepos(ctx context.Context, client *http.Client) ([]model.GithubRepo, error) {
	var result []model.GithubRepo
	for page := 1; ; page++ {
		query := url.Values{
			"per_page": {strconv.Itoa(reposPerPage)},
			"page":     {strconv.Itoa(page)},
		}
		var batch []githubRepo
		if err := p.getJSON(ctx, client, "/user/repos?"+query.Encode(), &batch); err != nil {
			return nil, err
		}
		for _, r := range batch {
			if r.Permissions.Admin || r.Permissions.Push {
				result = append(result, model.GithubRepo{Owner: r.Owner.Login, Name: r.Name})
			}
		}
		if len(batch) < reposPerPage {
			return result, nil
		}
	}
}

func (p *GitHubProvider) isAdminMember(orgs []githubOrg) bool {
	if p.adminOrg == "" {
		return false
	}
	for _, org := range orgs {
		if strings.EqualFold(org.Login, p.adminOrg) {
			return true
		}
	}
	return false
}

// getJSON はGitHub APIのパスにGETし、JSONレスポンスをoutにデコードする。
func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// compile-time interface check
var _ IdentityProvider = (*GitHubProvider)(nil)
