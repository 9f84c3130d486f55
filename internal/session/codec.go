package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSessionCookie はセッションCookieが改ざん・期限切れ・形式不正であることを表す。
var ErrInvalidSessionCookie = errors.New("invalid session cookie")

const issuer = "pkgindex"

// claims はセッションCookieに載せるクレーム。SubjectにセッションIDを入れる。
type claims struct {
	jwt.RegisteredClaims
}

// Codec はセッションIDとCookie値の相互変換を行う。
// Cookie値はHS256で署名したJWTで、有効期限を含む。
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec はCodecを生成する。
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// Encode はセッションIDを、expiresAtまで有効なCookie値に符号化する。
func (c *Codec) Encode(sessionID string, expiresAt time.Time) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session ID is required")
	}

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode はCookie値を検証し、セッションIDと有効期限を返す。
// 署名不正、期限切れ、形式不正はすべてErrInvalidSessionCookieを返す。
func (c *Codec) Decode(value string) (string, time.Time, error) {
	parsed := &claims{}
	token, err := jwt.ParseWithClaims(value, parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSessionCookie, err)
	}
	if !token.Valid || parsed.Subject == "" {
		return "", time.Time{}, ErrInvalidSessionCookie
	}

	return parsed.Subject, parsed.ExpiresAt.Time, nil
}
