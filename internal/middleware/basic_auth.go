package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/pkgindex/internal/model"
)

// CredentialVerifier はAuthorizationヘッダーからパブリッシュ資格情報を検証する。
type CredentialVerifier interface {
	VerifyPublishCredential(ctx context.Context, header string) (model.PublishCredential, error)
}

// CredentialRecorder は資格情報検証の結果を記録する。
type CredentialRecorder interface {
	RecordCredentialCheck(granted bool)
}

// NewBasicAuthMiddleware はBasic認証でパブリッシュ資格情報を検証するミドルウェアを返す。
// 検証に成功した場合のみ資格情報をリクエストコンテキストに注入する。
// 失敗した場合はWWW-Authenticateヘッダー付きで401を返す。
func NewBasicAuthMiddleware(verifier CredentialVerifier, recorder CredentialRecorder, realm string) func(next http.Handler) http.Handler {
	challenge := fmt.Sprintf("Basic realm=%q", realm)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, err := verifier.VerifyPublishCredential(r.Context(), r.Header.Get("Authorization"))
			recorder.RecordCredentialCheck(err == nil)
			if err != nil {
				w.Header().Set("WWW-Authenticate", challenge)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			annotateLogin(r.Context(), credential.Username)
			ctx := context.WithValue(r.Context(), credentialContextKey, credential)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CredentialFromContext はリクエストコンテキストから検証済みのパブリッシュ資格情報を取得する。
func CredentialFromContext(ctx context.Context) (model.PublishCredential, bool) {
	credential, ok := ctx.Value(credentialContextKey).(model.PublishCredential)
	return credential, ok
}

// ContextWithCredential はコンテキストに資格情報を注入する。テスト用。
func ContextWithCredential(ctx context.Context, credential model.PublishCredential) context.Context {
	return context.WithValue(ctx, credentialContextKey, credential)
}
