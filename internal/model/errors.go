package model

import (
	"errors"
	"fmt"
)

// リクエスト単位で回復されるエラー分類。
// ハンドラー境界でerrors.Isにより判定し、HTTPステータスに変換する。
var (
	// ErrAuthenticationFailed は資格情報の欠落・不正、またはIdPとの交換失敗を表す（401）。
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrForbidden は権限のない編集操作を表す（403）。
	ErrForbidden = errors.New("forbidden")
	// ErrMalformedCoordinate はパブリッシュパスから座標を解析できないことを表す（400）。
	ErrMalformedCoordinate = errors.New("malformed coordinate")
	// ErrNotFound は対象のプロジェクトまたはリリースが存在しないことを表す（404）。
	ErrNotFound = errors.New("not found")
	// ErrInvalidForm は編集フォームの入力が不正であることを表す（400）。
	ErrInvalidForm = errors.New("invalid form")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, publish, project, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeMalformedCoordinate = "MALFORMED_COORDINATE"
	ErrCodeProjectNotFound     = "PROJECT_NOT_FOUND"
	ErrCodeInvalidForm         = "INVALID_FORM"
	ErrCodeLoginFailed         = "LOGIN_FAILED"
	ErrCodeCSRFFailed          = "CSRF_VALIDATION_FAILED"
)

// NewUnauthorizedError は認証失敗エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "GitHubのユーザー名とトークンを確認してください。",
	}
}

// NewLoginFailedError はOAuthログインの失敗エラーを生成する。
func NewLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  "GitHubでのログインに失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}

// NewForbiddenError は編集権限がない場合のエラーを生成する。
func NewForbiddenError(repo GithubRepo) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("このプロジェクトを編集する権限がありません: %s", repo),
		Category: "auth",
		Action:   "リポジトリの管理者としてログインしてください。",
	}
}

// NewMalformedCoordinateError はパブリッシュパスの解析失敗エラーを生成する。
func NewMalformedCoordinateError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedCoordinate,
		Message:  fmt.Sprintf("パスからMaven座標を解析できません: %s", path),
		Category: "publish",
		Action:   "groupId/artifactId/version/ファイル名 の形式でパスを指定してください。",
	}
}

// NewProjectNotFoundError はプロジェクトが見つからない場合のエラーを生成する。
func NewProjectNotFoundError(repo GithubRepo) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", repo),
		Category: "project",
		Action:   "owner/リポジトリ名を確認してください。",
	}
}

// NewInvalidFormError は編集フォームの検証エラーを生成する。
func NewInvalidFormError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidForm,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewCSRFValidationError はCSRFトークン検証の失敗エラーを生成する。
func NewCSRFValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
