package notify

import (
	"fmt"
	"strings"

	"github.com/hitoshi/outlierscout/internal/model"
)

// TextSanitizer は外部由来のテキストをプレーンテキストに整形する。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// linkTextReplacer はMarkdownリンクのテキスト部を壊す角括弧を置き換える。
var linkTextReplacer = strings.NewReplacer("[", "(", "]", ")")

// FormatSummary は外れ値一覧のTelegram用Markdownメッセージを組み立てる。
// 外れ値がない場合は未検出メッセージを返す。
func FormatSummary(category string, outliers []model.OutlierRecord, sanitizer TextSanitizer) string {
	if len(outliers) == 0 {
		return fmt.Sprintf("No se detectaron outliers para %s", category)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Outliers detectados (%s):*\n", category)
	for i, o := range outliers {
		if i > 0 {
			b.WriteString("\n")
		}
		title := linkTextReplacer.Replace(sanitizer.Sanitize(o.Title))
		fmt.Fprintf(&b, "• [%s](%s) · R$ %.2f · Reviews: %d · Δ %.1f%%",
			title, o.ProductURL, o.PriceBRL, o.ReviewCount, o.ReviewGrowthWeekly)
	}
	return b.String()
}
