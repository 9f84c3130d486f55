package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は編集フォームの自由入力テキストからHTMLを除去する。
// キーワードや非推奨アーティファクト名はプレーンテキストとして表示されるため、
// タグは一切許可しない。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し前後の空白を落とした文字列を返す。
func (s *TextSanitizer) Sanitize(text string) string {
	return strings.TrimSpace(s.policy.Sanitize(text))
}

// SanitizeAll は各要素をサニタイズし、空になった要素と重複を取り除く。
// 元の順序は維持する。
func (s *TextSanitizer) SanitizeAll(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		clean := s.Sanitize(v)
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return out
}
