package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pkgindex/internal/middleware"
	"github.com/hitoshi/pkgindex/internal/model"
)

// maxEditFormBytes は編集フォームのボディサイズ上限。
const maxEditFormBytes = 1 << 20

// ProjectServiceInterface は編集ハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	GetForm(ctx context.Context, identity *model.Identity, repo model.GithubRepo) (*model.ProjectForm, error)
	UpdateForm(ctx context.Context, identity *model.Identity, repo model.GithubRepo, form model.ProjectForm) error
}

// EditHandler はプロジェクト編集のHTTPハンドラー。
type EditHandler struct {
	service     ProjectServiceInterface
	settleDelay time.Duration
}

// NewEditHandler はEditHandlerを生成する。
// settleDelayは更新の適用後、プロジェクトページへリダイレクトするまでの待ち時間。
// 検索インデックスへの反映を待ってから表示するためのもので、0なら待たない。
func NewEditHandler(service ProjectServiceInterface, settleDelay time.Duration) *EditHandler {
	return &EditHandler{service: service, settleDelay: settleDelay}
}

// GetForm は編集フォームの現在値を返す。
// GET /edit/{owner}/{repo}
func (h *EditHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	repo := repoFromRequest(r)
	identity, _ := middleware.IdentityFromContext(r.Context())

	form, err := h.service.GetForm(r.Context(), identity, repo)
	if err != nil {
		writeEditError(w, err, repo)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(form)
}

// UpdateForm は編集フォームの送信を処理する。
// POST /edit/{owner}/{repo}
// 成功時は待機時間の後、303で/{owner}/{repo}にリダイレクトする。
func (h *EditHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	repo := repoFromRequest(r)
	identity, _ := middleware.IdentityFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxEditFormBytes)
	form, err := parseProjectForm(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidFormError(err.Error()))
		return
	}

	if err := h.service.UpdateForm(r.Context(), identity, repo, form); err != nil {
		writeEditError(w, err, repo)
		return
	}

	if err := settle(r.Context(), h.settleDelay); err != nil {
		slog.Info("edit redirect canceled", slog.String("repo", repo.String()))
		return
	}

	http.Redirect(w, r, "/"+repo.Owner+"/"+repo.Name, http.StatusSeeOther)
}

// settle はdだけ待つ。待機中にcontextがキャンセルされた場合はそのエラーを返す。
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func repoFromRequest(r *http.Request) model.GithubRepo {
	return model.GithubRepo{
		Owner: chi.URLParam(r, "owner"),
		Name:  chi.URLParam(r, "repo"),
	}
}

// parseProjectForm はURLエンコードされたフォームをProjectFormに変換する。
// documentationLinksは"label|url"形式で複数指定できる。
func parseProjectForm(r *http.Request) (model.ProjectForm, error) {
	if err := r.ParseForm(); err != nil {
		return model.ProjectForm{}, fmt.Errorf("フォームを解析できません")
	}
	values := r.PostForm

	contributorsWanted, err := formBool(values.Get("contributorsWanted"))
	if err != nil {
		return model.ProjectForm{}, fmt.Errorf("contributorsWanted: %v", err)
	}
	deprecated, err := formBool(values.Get("deprecated"))
	if err != nil {
		return model.ProjectForm{}, fmt.Errorf("deprecated: %v", err)
	}

	form := model.ProjectForm{
		ContributorsWanted:   contributorsWanted,
		Keywords:             values["keywords"],
		DefaultArtifact:      values.Get("defaultArtifact"),
		Deprecated:           deprecated,
		ArtifactDeprecations: values["artifactDeprecations"],
		CustomScalaDoc:       values.Get("customScalaDoc"),
	}

	for _, raw := range values["documentationLinks"] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		label, link, ok := strings.Cut(raw, "|")
		if !ok {
			return model.ProjectForm{}, fmt.Errorf("documentationLinks は label|url 形式で指定してください: %q", raw)
		}
		form.DocumentationLinks = append(form.DocumentationLinks, model.DocumentationLink{
			Label: strings.TrimSpace(label),
			URL:   strings.TrimSpace(link),
		})
	}

	return form, nil
}

// formBool はチェックボックスの値を真偽値に変換する。未指定はfalse。
func formBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return false, nil
	case "on":
		return true, nil
	default:
		return strconv.ParseBool(v)
	}
}

// writeEditError はサービス層のエラーをHTTPステータスに変換して書き込む。
func writeEditError(w http.ResponseWriter, err error, repo model.GithubRepo) {
	switch {
	case errors.Is(err, model.ErrForbidden):
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(repo))
	case errors.Is(err, model.ErrNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProjectNotFoundError(repo))
	case errors.Is(err, model.ErrInvalidForm):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidFormError(err.Error()))
	default:
		slog.Error("internal server error",
			slog.String("repo", repo.String()),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}
