// Package authz はプロジェクト編集の認可判定を提供する。
package authz

import "github.com/hitoshi/pkgindex/internal/model"

// CanEdit はidentityがrepoのプロジェクトを編集できるかを判定する。
// 管理者、またはrepoを管理しているユーザーのみ編集できる。
// identityがnil（未ログイン）の場合は常にfalse。副作用はない。
func CanEdit(repo model.GithubRepo, identity *model.Identity) bool {
	if identity == nil {
		return false
	}
	return identity.User.IsAdmin || identity.HasRepo(repo)
}
