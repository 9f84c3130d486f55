package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/pkgindex/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// FindByRepo はowner/nameでプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByRepo(ctx context.Context, repo model.GithubRepo) (*model.Project, error) {
	p := &model.Project{}
	var links []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT owner, name, contributors_wanted, keywords, default_artifact, deprecated,
		        artifact_deprecations, custom_scaladoc, documentation_links, created_at, updated_at
		 FROM projects
		 WHERE lower(owner) = lower($1) AND lower(name) = lower($2)`,
		repo.Owner, repo.Name,
	).Scan(
		&p.Repo.Owner, &p.Repo.Name, &p.Form.ContributorsWanted, pq.Array(&p.Form.Keywords),
		&p.Form.DefaultArtifact, &p.Form.Deprecated, pq.Array(&p.Form.ArtifactDeprecations),
		&p.Form.CustomScalaDoc, &links, &p.CreatedAt, &p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}

	if err := json.Unmarshal(links, &p.Form.DocumentationLinks); err != nil {
		return nil, fmt.Errorf("failed to decode documentation links: %w", err)
	}

	return p, nil
}

// UpdateForm はプロジェクトの編集フォーム項目を更新する。
func (r *PostgresProjectRepo) UpdateForm(ctx context.Context, repo model.GithubRepo, form model.ProjectForm) error {
	links := form.DocumentationLinks
	if links == nil {
		links = []model.DocumentationLink{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("failed to encode documentation links: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE projects SET
		   contributors_wanted = $3,
		   keywords = $4,
		   default_artifact = $5,
		   deprecated = $6,
		   artifact_deprecations = $7,
		   custom_scaladoc = $8,
		   documentation_links = $9,
		   updated_at = now()
		 WHERE lower(owner) = lower($1) AND lower(name) = lower($2)`,
		repo.Owner, repo.Name,
		form.ContributorsWanted, pq.Array(nonNil(form.Keywords)), form.DefaultArtifact, form.Deprecated,
		pq.Array(nonNil(form.ArtifactDeprecations)), form.CustomScalaDoc, linksJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update project form: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %s: %w", repo, model.ErrNotFound)
	}

	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
