// Package model はドメインモデルを定義する。
package model

import "strings"

// UserInfo は外部IdP（GitHub）から取得したユーザープロフィールを表す。
type UserInfo struct {
	Login     string
	Name      string
	AvatarURL string
	IsAdmin   bool
}

// GithubRepo はowner/nameの組で識別されるリポジトリを表す。
type GithubRepo struct {
	Owner string
	Name  string
}

// String は "owner/name" 形式の文字列を返す。
func (r GithubRepo) String() string {
	return r.Owner + "/" + r.Name
}

// Key は大文字小文字を区別しない比較用のキーを返す。
// GitHubのowner名・リポジトリ名は大文字小文字を区別しない。
func (r GithubRepo) Key() string {
	return strings.ToLower(r.Owner) + "/" + strings.ToLower(r.Name)
}

// Identity はOAuthログイン完了時に生成されるサーバー側のユーザー識別情報を表す。
// 生成後は変更しない。永続化はせず、プロセスとセッションの生存期間だけ存在する。
type Identity struct {
	ID    string
	User  UserInfo
	repos map[string]GithubRepo
}

// NewIdentity はIdentityを生成する。reposは管理権限を持つリポジトリの集合。
func NewIdentity(id string, user UserInfo, repos []GithubRepo) *Identity {
	set := make(map[string]GithubRepo, len(repos))
	for _, r := range repos {
		set[r.Key()] = r
	}
	return &Identity{ID: id, User: user, repos: set}
}

// HasRepo はidentityが指定リポジトリを管理しているかを返す。
func (i *Identity) HasRepo(repo GithubRepo) bool {
	_, ok := i.repos[repo.Key()]
	return ok
}

// PublishCredential はBasic認証ヘッダーから取り出したパブリッシュ用の資格情報。
// 1リクエストの間だけ存在し、保存しない。
type PublishCredential struct {
	Username string
	Secret   string
}
