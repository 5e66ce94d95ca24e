package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// TextSanitizer はロケーションの名前や説明などのプレーンテキスト入力から
// HTMLマークアップを取り除く。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses はタグ除去とアンエスケープを繰り返す上限。
const maxSanitizePasses = 4

// Sanitize はタグを除去し、エスケープされた文字実体を元に戻したテキストを返す。
// 前後の空白は取り除く。
//
// bluemondayは出力をHTMLエスケープするため、"Café & Bar" のような入力が
// "Café &amp; Bar" として保存されないようアンエスケープする。
// "&lt;script&gt;" のように実体参照で書かれたタグはアンエスケープ後に再びタグになるため、
// 出力が変化しなくなるまで除去を繰り返す。上限に達した場合はエスケープしたまま返す。
func (s *TextSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	current := text
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(current))
		if next == current {
			return strings.TrimSpace(next)
		}
		current = next
	}
	return strings.TrimSpace(s.policy.Sanitize(current))
}
