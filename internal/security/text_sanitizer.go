package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はスクレイピングした商品名などの外部由来テキストを
// 通知・レポート用のプレーンテキストに整形する。
// bluemondayのStrictPolicyですべてのタグを除去し、エンティティを戻し、空白を1つにまとめる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。ポリシーはスレッドセーフに共有できる。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
// 同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	// StrictPolicyは & < > などをエスケープして返すためテキストに戻す
	text := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(text), " ")
}
