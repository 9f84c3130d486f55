// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/pkgindex/internal/model"
)

// ReleaseRepository はパブリッシュされたリリースの永続化インターフェース。
type ReleaseRepository interface {
	// Exists は座標のリリースが存在するかを返す。
	Exists(ctx context.Context, coord model.MavenCoordinate) (bool, error)

	// Store はリリースのディスクリプタとパブリッシュ時のフラグを保存する。
	// 同一座標が既にある場合は上書きする（最後の書き込みが優先）。
	Store(ctx context.Context, req *model.PublishRequest) error
}

// ProjectRepository はプロジェクトメタデータの永続化インターフェース。
type ProjectRepository interface {
	// FindByRepo はowner/nameでプロジェクトを取得する。見つからない場合はnilを返す。
	// owner/nameは大文字小文字を区別しない。
	FindByRepo(ctx context.Context, repo model.GithubRepo) (*model.Project, error)

	// UpdateForm はプロジェクトの編集フォーム項目を更新する。
	// プロジェクトが存在しない場合はmodel.ErrNotFoundを返す。
	UpdateForm(ctx context.Context, repo model.GithubRepo, form model.ProjectForm) error
}
