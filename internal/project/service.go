// Package project はプロジェクトメタデータの閲覧と編集を提供する。
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/pkgindex/internal/authz"
	"github.com/hitoshi/pkgindex/internal/model"
	"github.com/hitoshi/pkgindex/internal/repository"
)

// URLValidator はユーザーが入力したリンクURLを検証する。security.LinkGuardが満たす。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// TextSanitizer は自由入力テキストからHTMLを除去する。security.TextSanitizerが満たす。
type TextSanitizer interface {
	Sanitize(text string) string
	SanitizeAll(values []string) []string
}

// Service はプロジェクト編集のビジネスロジックを提供する。
// すべての操作は認可ポリシーを先に評価し、権限がなければ何も読み書きしない。
type Service struct {
	projects  repository.ProjectRepository
	links     URLValidator
	sanitizer TextSanitizer
	validate  *validator.Validate
}

// NewService はServiceを生成する。
func NewService(projects repository.ProjectRepository, links URLValidator, sanitizer TextSanitizer) *Service {
	return &Service{
		projects:  projects,
		links:     links,
		sanitizer: sanitizer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// GetForm は編集フォームの現在値を返す。
// 権限がない場合はErrForbidden、プロジェクトがない場合はErrNotFoundを返す。
func (s *Service) GetForm(ctx context.Context, identity *model.Identity, repo model.GithubRepo) (*model.ProjectForm, error) {
	if !authz.CanEdit(repo, identity) {
		return nil, fmt.Errorf("%w: %s", model.ErrForbidden, repo)
	}

	project, err := s.projects.FindByRepo(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if project == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, repo)
	}

	return &project.Form, nil
}

// UpdateForm は編集フォームの内容を検証し、プロジェクトに適用する。
// 権限がない場合はErrForbidden、入力が不正な場合はErrInvalidForm、
// プロジェクトがない場合はErrNotFoundを返す。いずれの場合も何も適用しない。
func (s *Service) UpdateForm(ctx context.Context, identity *model.Identity, repo model.GithubRepo, form model.ProjectForm) error {
	// 1. 認可
	if !authz.CanEdit(repo, identity) {
		slog.Warn("edit forbidden",
			slog.String("repo", repo.String()),
			slog.String("login", loginOf(identity)),
		)
		return fmt.Errorf("%w: %s", model.ErrForbidden, repo)
	}

	// 2. サニタイズと検証
	clean, err := s.normalize(form)
	if err != nil {
		return err
	}

	// 3. 適用
	if err := s.projects.UpdateForm(ctx, repo, clean); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to update project form: %w", err)
	}

	slog.Info("project form updated",
		slog.String("repo", repo.String()),
		slog.String("login", identity.User.Login),
	)
	return nil
}

// normalize はテキストをサニタイズし、構造とリンクURLを検証する。
func (s *Service) normalize(form model.ProjectForm) (model.ProjectForm, error) {
	clean := model.ProjectForm{
		ContributorsWanted:   form.ContributorsWanted,
		Keywords:             s.sanitizer.SanitizeAll(form.Keywords),
		DefaultArtifact:      s.sanitizer.Sanitize(form.DefaultArtifact),
		Deprecated:           form.Deprecated,
		ArtifactDeprecations: s.sanitizer.SanitizeAll(form.ArtifactDeprecations),
		CustomScalaDoc:       strings.TrimSpace(form.CustomScalaDoc),
		DocumentationLinks:   make([]model.DocumentationLink, 0, len(form.DocumentationLinks)),
	}
	for _, link := range form.DocumentationLinks {
		clean.DocumentationLinks = append(clean.DocumentationLinks, model.DocumentationLink{
			Label: s.sanitizer.Sanitize(link.Label),
			URL:   strings.TrimSpace(link.URL),
		})
	}

	if err := s.validate.Struct(clean); err != nil {
		return model.ProjectForm{}, fmt.Errorf("%w: %v", model.ErrInvalidForm, err)
	}

	if clean.CustomScalaDoc != "" {
		if err := s.links.ValidateURL(clean.CustomScalaDoc); err != nil {
			return model.ProjectForm{}, fmt.Errorf("%w: customScalaDoc: %v", model.ErrInvalidForm, err)
		}
	}
	for _, link := range clean.DocumentationLinks {
		if err := s.links.ValidateURL(link.URL); err != nil {
			return model.ProjectForm{}, fmt.Errorf("%w: documentation link %q: %v", model.ErrInvalidForm, link.Label, err)
		}
	}

	return clean, nil
}

func loginOf(identity *model.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.User.Login
}
