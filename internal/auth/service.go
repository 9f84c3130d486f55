// Package auth はGitHub OAuthによるログインと、パブリッシュ時のBasic認証を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/pkgindex/internal/model"
	"github.com/hitoshi/pkgindex/internal/session"
)

// Profile はIdPから取得したユーザー情報と管理可能なリポジトリの一覧。
type Profile struct {
	User  model.UserInfo
	Repos []model.GithubRepo
}

// IdentityProvider は外部IdPのインターフェース。
// ブロックする呼び出しはすべてcontextでキャンセルできる。
type IdentityProvider interface {
	// AuthCodeURL は認可画面のURLを生成する。
	AuthCodeURL(state string) string
	// Info は認可コードを交換し、ユーザー情報を取得する。
	Info(ctx context.Context, code string) (*Profile, error)
	// Authenticate はパブリッシュ資格情報が有効かどうかを判定する。
	Authenticate(ctx context.Context, credential model.PublishCredential) (bool, error)
	// ClientID はOAuthアプリケーションのクライアントIDを返す。
	ClientID() string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider IdentityProvider
	store    *session.Store
	newID    func() string
}

// NewService はServiceを生成する。
func NewService(provider IdentityProvider, store *session.Store) *Service {
	return &Service{
		provider: provider,
		store:    store,
		newID:    uuid.NewString,
	}
}

// LoginURL はIdPの認可画面URLを生成する。
func (s *Service) LoginURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

// Login は認可コードからIdentityを生成し、新しいセッションに登録する。
// IdPとの交換に失敗した場合はErrAuthenticationFailedを返し、セッションは作成しない。リトライはしない。
func (s *Service) Login(ctx context.Context, code string) (string, *model.Identity, error) {
	if code == "" {
		return "", nil, fmt.Errorf("%w: missing authorization code", model.ErrAuthenticationFailed)
	}

	// 1. IdPでコードを交換し、ユーザー情報を取得
	profile, err := s.provider.Info(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", model.ErrAuthenticationFailed, err)
	}

	// 2. Identityを生成してセッションに登録
	identity := model.NewIdentity(s.newID(), profile.User, profile.Repos)
	sessionID := s.newID()
	s.store.Put(sessionID, identity)

	slog.Info("user logged in",
		slog.String("login", identity.User.Login),
		slog.Bool("admin", identity.User.IsAdmin),
		slog.Int("repos", len(profile.Repos)),
	)

	return sessionID, identity, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(sessionID string) {
	if sessionID == "" {
		return
	}
	s.store.Delete(sessionID)
}

// VerifyPublishCredential はAuthorizationヘッダーを検証し、有効な資格情報を返す。
// 形式不正、IdPによる拒否、IdPとの通信失敗はすべてErrAuthenticationFailedを返す。
func (s *Service) VerifyPublishCredential(ctx context.Context, header string) (model.PublishCredential, error) {
	credential, err := DecodeBasic(header)
	if err != nil {
		return model.PublishCredential{}, err
	}

	ok, err := s.provider.Authenticate(ctx, credential)
	if err != nil {
		slog.Warn("publish credential check failed",
			slog.String("username", credential.Username),
			slog.String("error", err.Error()),
		)
		return model.PublishCredential{}, fmt.Errorf("%w: %v", model.ErrAuthenticationFailed, err)
	}
	if !ok {
		return model.PublishCredential{}, fmt.Errorf("%w: credential rejected", model.ErrAuthenticationFailed)
	}

	return credential, nil
}
