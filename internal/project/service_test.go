package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hitoshi/pkgindex/internal/model"
	"github.com/hitoshi/pkgindex/internal/security"
)

// --- モック定義 ---

type mockProjectRepo struct {
	findByRepoFn func(ctx context.Context, repo model.GithubRepo) (*model.Project, error)
	updateFormFn func(ctx context.Context, repo model.GithubRepo, form model.ProjectForm) error
}

func (m *mockProjectRepo) FindByRepo(ctx context.Context, repo model.GithubRepo) (*model.Project, error) {
	if m.findByRepoFn != nil {
		return m.findByRepoFn(ctx, repo)
	}
	return nil, nil
}

func (m *mockProjectRepo) UpdateForm(ctx context.Context, repo model.GithubRepo, form model.ProjectForm) error {
	if m.updateFormFn != nil {
		return m.updateFormFn(ctx, repo, form)
	}
	return nil
}

var (
	scaladex = model.GithubRepo{Owner: "scalacenter", Name: "scaladex"}
	owner    = model.NewIdentity("id-owner", model.UserInfo{Login: "alice"}, []model.GithubRepo{scaladex})
	stranger = model.NewIdentity("id-stranger", model.UserInfo{Login: "mallory"}, nil)
	admin    = model.NewIdentity("id-admin", model.UserInfo{Login: "root", IsAdmin: true}, nil)
)

func newTestService(repo *mockProjectRepo) *Service {
	return NewService(repo, security.NewLinkGuard(), security.NewTextSanitizer())
}

// --- テスト ---

func TestService_UpdateForm_AppliesSanitizedForm(t *testing.T) {
	var applied model.ProjectForm
	svc := newTestService(&mockProjectRepo{
		updateFormFn: func(_ context.Context, repo model.GithubRepo, form model.ProjectForm) error {
			if repo != scaladex {
				t.Errorf("repo = %v", repo)
			}
			applied = form
			return nil
		},
	})

	err := svc.UpdateForm(context.Background(), owner, scaladex, model.ProjectForm{
		ContributorsWanted:   true,
		Keywords:             []string{" json ", "<b>http</b>", "json", ""},
		DefaultArtifact:      "scaladex-server",
		ArtifactDeprecations: []string{"<script>x</script>old"},
		CustomScalaDoc:       " https://docs.example.com/api/ ",
		DocumentationLinks:   []model.DocumentationLink{{Label: "Guide", URL: "https://docs.example.com/guide"}},
	})
	if err != nil {
		t.Fatalf("UpdateForm() error = %v", err)
	}

	if strings.Join(applied.Keywords, ",") != "json,http" {
		t.Errorf("Keywords = %v, want [json http]", applied.Keywords)
	}
	if len(applied.ArtifactDeprecations) != 1 || strings.Contains(applied.ArtifactDeprecations[0], "<") {
		t.Errorf("ArtifactDeprecations = %v", applied.ArtifactDeprecations)
	}
	if applied.CustomScalaDoc != "https://docs.example.com/api/" {
		t.Errorf("CustomScalaDoc = %q", applied.CustomScalaDoc)
	}
	if !applied.ContributorsWanted {
		t.Error("ContributorsWanted should be preserved")
	}
}

func TestService_UpdateForm_Forbidden(t *testing.T) {
	tests := []struct {
		name     string
		identity *model.Identity
	}{
		{name: "未ログイン", identity: nil},
		{name: "リポジトリ権限なし", identity: stranger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&mockProjectRepo{
				updateFormFn: func(context.Context, model.GithubRepo, model.ProjectForm) error {
					t.Fatal("UpdateForm should not be called")
					return nil
				},
			})

			err := svc.UpdateForm(context.Background(), tt.identity, scaladex, model.ProjectForm{})
			if !errors.Is(err, model.ErrForbidden) {
				t.Errorf("error = %v, want ErrForbidden", err)
			}
		})
	}
}

func TestService_UpdateForm_AdminMayEditAnyProject(t *testing.T) {
	called := false
	svc := newTestService(&mockProjectRepo{
		updateFormFn: func(context.Context, model.GithubRepo, model.ProjectForm) error {
			called = true
			return nil
		},
	})

	if err := svc.UpdateForm(context.Background(), admin, scaladex, model.ProjectForm{}); err != nil {
		t.Fatalf("UpdateForm() error = %v", err)
	}
	if !called {
		t.Error("expected admin edit to be applied")
	}
}

func TestService_UpdateForm_InvalidForm(t *testing.T) {
	tooMany := make([]string, 31)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("kw%d", i)
	}

	tests := []struct {
		name string
		form model.ProjectForm
	}{
		{name: "キーワード過多", form: model.ProjectForm{Keywords: tooMany}},
		{name: "ScalaDocのURL不正", form: model.ProjectForm{CustomScalaDoc: "not a url"}},
		{name: "ScalaDocがlocalhost", form: model.ProjectForm{CustomScalaDoc: "http://localhost/api"}},
		{name: "リンクのラベルが空", form: model.ProjectForm{DocumentationLinks: []model.DocumentationLink{{Label: "<b></b>", URL: "https://example.com"}}}},
		{name: "リンクがjavascriptスキーム", form: model.ProjectForm{DocumentationLinks: []model.DocumentationLink{{Label: "x", URL: "javascript:alert(1)"}}}},
		{name: "リンクがプライベートIP", form: model.ProjectForm{DocumentationLinks: []model.DocumentationLink{{Label: "x", URL: "http://10.0.0.1/docs"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&mockProjectRepo{
				updateFormFn: func(context.Context, model.GithubRepo, model.ProjectForm) error {
					t.Fatal("UpdateForm should not be called")
					return nil
				},
			})

			err := svc.UpdateForm(context.Background(), owner, scaladex, tt.form)
			if !errors.Is(err, model.ErrInvalidForm) {
				t.Errorf("error = %v, want ErrInvalidForm", err)
			}
		})
	}
}

func TestService_UpdateForm_NotFound(t *testing.T) {
	svc := newTestService(&mockProjectRepo{
		updateFormFn: func(context.Context, model.GithubRepo, model.ProjectForm) error {
			return fmt.Errorf("project %s: %w", scaladex, model.ErrNotFound)
		},
	})

	err := svc.UpdateForm(context.Background(), owner, scaladex, model.ProjectForm{})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestService_UpdateForm_RepositoryError(t *testing.T) {
	svc := newTestService(&mockProjectRepo{
		updateFormFn: func(context.Context, model.GithubRepo, model.ProjectForm) error {
			return errors.New("connection refused")
		},
	})

	err := svc.UpdateForm(context.Background(), owner, scaladex, model.ProjectForm{})
	if err == nil || errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidForm) {
		t.Errorf("error = %v, want wrapped repository error", err)
	}
}

func TestService_GetForm(t *testing.T) {
	stored := &model.Project{Repo: scaladex, Form: model.ProjectForm{Keywords: []string{"index"}}}

	t.Run("所有者は取得できる", func(t *testing.T) {
		svc := newTestService(&mockProjectRepo{
			findByRepoFn: func(context.Context, model.GithubRepo) (*model.Project, error) {
				return stored, nil
			},
		})
		form, err := svc.GetForm(context.Background(), owner, model.GithubRepo{Owner: "ScalaCenter", Name: "Scaladex"})
		if err != nil {
			t.Fatalf("GetForm() error = %v", err)
		}
		if len(form.Keywords) != 1 || form.Keywords[0] != "index" {
			t.Errorf("Keywords = %v", form.Keywords)
		}
	})

	t.Run("権限なしは403", func(t *testing.T) {
		svc := newTestService(&mockProjectRepo{
			findByRepoFn: func(context.Context, model.GithubRepo) (*model.Project, error) {
				t.Fatal("FindByRepo should not be called")
				return nil, nil
			},
		})
		if _, err := svc.GetForm(context.Background(), stranger, scaladex); !errors.Is(err, model.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("存在しないプロジェクトは404", func(t *testing.T) {
		svc := newTestService(&mockProjectRepo{})
		if _, err := svc.GetForm(context.Background(), admin, scaladex); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}
