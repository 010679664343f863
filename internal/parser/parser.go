// Package parser はカテゴリページのHTMLに埋め込まれたJSONペイロードから
// 商品一覧を抽出し、Snapshotを生成する。
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/outlierscout/internal/model"
)

// payloadPattern は埋め込みペイロードの代入文を検出する。最初のマッチのみ使用する。
var payloadPattern = regexp.MustCompile(`window\.__NUXT__=([^;]+);`)

// productListPaths は商品リストの候補パス。レスポンス形状によって位置が異なるため、先頭から順に試す。
var productListPaths = [][]string{
	{"state", "category", "data", "products", "goodsList"},
	{"data", "0", "goodsList"},
}

// Parse は現在時刻を収集時刻としてHTMLを解析する。
func Parse(html, category string) (*model.Snapshot, error) {
	return ParseAt(html, category, time.Now())
}

// ParseAt はHTMLから商品一覧を抽出し、Snapshotを生成する。
// 次の場合は *model.ParseError を返す:
//   - 埋め込みペイロードのマーカーが見つからない
//   - マーカー内のブロックがJSONとして不正
//   - 商品リストが存在しない、配列でない、または空（個別の除外前に判定）
//
// snapshotIDは「小文字化したカテゴリ-ミリ秒タイムスタンプ」で、
// 同一ミリ秒の並行呼び出しでは重複しうる。
func ParseAt(html, category string, now time.Time) (*model.Snapshot, error) {
	raw, ok := extractPayload(html)
	if !ok {
		return nil, &model.ParseError{Kind: model.ParseErrorPayloadNotFound}
	}

	// 商品IDが数値で来る場合に指数表記へ崩れないよう json.Number で受ける
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, &model.ParseError{Kind: model.ParseErrorInvalidJSON, Err: err}
	}

	items := resolveProductList(payload)
	if len(items) == 0 {
		return nil, &model.ParseError{Kind: model.ParseErrorNoProducts}
	}

	normalizedCategory := strings.ToLower(category)
	products := make([]model.RawProduct, 0, len(items))
	for _, elem := range items {
		item, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		p := ProjectProduct(item)
		if !p.IsComplete() {
			continue
		}
		products = append(products, p)
	}

	return &model.Snapshot{
		SnapshotID:  fmt.Sprintf("%s-%d", normalizedCategory, now.UnixMilli()),
		CollectedAt: now,
		Category:    normalizedCategory,
		Products:    products,
	}, nil
}

// extractPayload は埋め込みペイロードのJSON文字列を取り出す。
// まず<script>要素の本文を順に検査し、見つからなければページ全体を検査する。
func extractPayload(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		var found string
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := payloadPattern.FindStringSubmatch(s.Text()); m != nil {
				found = m[1]
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}

	if m := payloadPattern.FindStringSubmatch(html); m != nil {
		return m[1], true
	}
	return "", false
}

// resolveProductList は候補パスを順に辿って商品リストを返す。
// 候補が存在しない、または偽値（null、false、0、空文字列）の場合は次の候補へ進む。
// 配列以外が解決された場合はnilを返す。
func resolveProductList(payload any) []any {
	for _, path := range productListPaths {
		v, ok := lookup(payload, path)
		if !ok || isFalsy(v) {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			return nil
		}
		return list
	}
	return nil
}

// isFalsy はペイロード上で「値なし」とみなす値かを判定する。空配列は値ありとして扱う。
func isFalsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case string:
		return val == ""
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	default:
		return false
	}
}
