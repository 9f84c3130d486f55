package auth

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/hitoshi/pkgindex/internal/model"
)

// DecodeBasic はAuthorizationヘッダーの値からパブリッシュ資格情報を取り出す。
// ヘッダー欠落、Basic以外のスキーム、base64不正、区切り文字なし、空のユーザー名・シークレットは
// すべてErrAuthenticationFailedを返す。
func DecodeBasic(header string) (model.PublishCredential, error) {
	if header == "" {
		return model.PublishCredential{}, fmt.Errorf("%w: missing authorization header", model.ErrAuthenticationFailed)
	}

	scheme, encoded, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return model.PublishCredential{}, fmt.Errorf("%w: unsupported authorization scheme", model.ErrAuthenticationFailed)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return model.PublishCredential{}, fmt.Errorf("%w: invalid base64 credential", model.ErrAuthenticationFailed)
	}

	username, secret, ok := strings.Cut(string(decoded), ":")
	if !ok || username == "" || secret == "" {
		return model.PublishCredential{}, fmt.Errorf("%w: malformed credential", model.ErrAuthenticationFailed)
	}

	return model.PublishCredential{Username: username, Secret: secret}, nil
}
