package model

import "time"

// DocumentationLink はプロジェクトページに表示するドキュメントへのリンク。
type DocumentationLink struct {
	Label string `json:"label" validate:"required,max=100"`
	URL   string `json:"url" validate:"required,url,max=2048"`
}

// ProjectForm はプロジェクト編集フォームで変更できるメタデータ。
type ProjectForm struct {
	ContributorsWanted   bool                `json:"contributors_wanted"`
	Keywords             []string            `json:"keywords" validate:"max=30,dive,required,max=50"`
	DefaultArtifact      string              `json:"default_artifact,omitempty" validate:"omitempty,max=200"`
	Deprecated           bool                `json:"deprecated"`
	ArtifactDeprecations []string            `json:"artifact_deprecations" validate:"dive,required,max=200"`
	CustomScalaDoc       string              `json:"custom_scaladoc,omitempty" validate:"omitempty,url,max=2048"`
	DocumentationLinks   []DocumentationLink `json:"documentation_links" validate:"max=20,dive"`
}

// Project はインデックスに登録されたプロジェクトを表す。
type Project struct {
	Repo      GithubRepo
	Form      ProjectForm
	CreatedAt time.Time
	UpdatedAt time.Time
}
