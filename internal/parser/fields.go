package parser

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/hitoshi/outlierscout/internal/model"
)

// Extractor はペイロードの商品オブジェクトから値を1つ取り出す。
// 値が存在しない、またはnullの場合はfalseを返す。
type Extractor func(item map[string]any) (any, bool)

// Key はトップレベルのキーを読むExtractorを返す。
func Key(name string) Extractor {
	return Path(name)
}

// Path はネストしたオブジェクトを順に辿るExtractorを返す。
// 配列は数値の添字で辿る（例: "data", "0", "goodsList"）。
func Path(names ...string) Extractor {
	return func(item map[string]any) (any, bool) {
		return lookup(item, names)
	}
}

// FieldExtractors は出力フィールドごとの抽出候補を優先順に並べたもの。
// 先頭から順に試し、最初に値が存在した候補を採用する（空文字列も「存在する」とみなす）。
var FieldExtractors = struct {
	ID          []Extractor
	Name        []Extractor
	Price       []Extractor
	Currency    []Extractor
	ImageURL    []Extractor
	DetailURL   []Extractor
	ReviewCount []Extractor
	Tags        []Extractor
}{
	ID:          []Extractor{Key("goods_id"), Key("goodsId"), Key("id")},
	Name:        []Extractor{Key("goods_name"), Key("goodsName"), Key("title")},
	Price:       []Extractor{Key("salePrice"), Key("retail_price"), Path("price", "amount")},
	Currency:    []Extractor{Key("salePriceCurrency"), Path("price", "currency")},
	ImageURL:    []Extractor{Key("goods_img"), Key("goodsImg"), Key("image")},
	DetailURL:   []Extractor{Key("detail_url"), Key("detailUrl"), Key("shareUrl"), Key("url")},
	ReviewCount: []Extractor{Key("review_num"), Key("reviewNum"), Path("review", "count")},
	Tags:        []Extractor{Key("tag_list"), Key("tags")},
}

// First は候補を優先順に試し、最初に見つかった値を返す。
func First(item map[string]any, extractors []Extractor) (any, bool) {
	for _, extract := range extractors {
		if v, ok := extract(item); ok {
			return v, true
		}
	}
	return nil, false
}

// ProjectProduct はペイロードの商品オブジェクト1件をRawProductに射影する。
// 必須項目の欠落による除外は呼び出し元で行う。
func ProjectProduct(item map[string]any) model.RawProduct {
	p := model.RawProduct{
		Currency: model.DefaultCurrency,
		Tags:     []model.ProductTag{},
	}

	if v, ok := First(item, FieldExtractors.ID); ok {
		p.ID = stringValue(v)
	}
	if v, ok := First(item, FieldExtractors.Name); ok {
		p.Name = stringValue(v)
	}
	if v, ok := First(item, FieldExtractors.Price); ok {
		p.Price = numberValue(v)
	}
	if v, ok := First(item, FieldExtractors.Currency); ok {
		p.Currency = stringValue(v)
	}
	if v, ok := First(item, FieldExtractors.ImageURL); ok {
		p.ImageURL = stringValue(v)
	}
	if v, ok := First(item, FieldExtractors.DetailURL); ok {
		p.DetailURL = stringValue(v)
	}
	if v, ok := First(item, FieldExtractors.ReviewCount); ok {
		p.ReviewCount = reviewCountValue(v)
	}
	if v, ok := First(item, FieldExtractors.Tags); ok {
		p.Tags = tagsValue(v)
	}
	return p
}

// lookup はJSONデコード済みの値をパスに沿って辿る。
func lookup(v any, names []string) (any, bool) {
	cur := v
	for _, name := range names {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[name]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(name)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// stringValue は文字列・数値・真偽値を文字列に変換する。それ以外は空文字列。
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// numberValue は数値・数値文字列を float64 に変換する。
// {"amount": ...} 形式の価格オブジェクトはamountを読む。
// 変換できない場合とNaN・無限大は0。
func numberValue(v any) float64 {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0
		}
		return finiteOrZero(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		return finiteOrZero(f)
	case map[string]any:
		if amount, ok := lookup(val, []string{"amount"}); ok {
			return numberValue(amount)
		}
		return 0
	default:
		return 0
	}
}

// finiteOrZero はNaN・無限大を0に置き換える。JSONに書き出せない値を残さない。
func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// reviewCountValue はレビュー数を読み取り、0以上math.MaxInt32以下に収めてintに変換する。
func reviewCountValue(v any) int {
	f := numberValue(v)
	if f <= 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

// tagsValue はタグ配列を読み取る。要素は {"tag": "..."} 形式または文字列。
func tagsValue(v any) []model.ProductTag {
	list, ok := v.([]any)
	if !ok {
		return []model.ProductTag{}
	}
	tags := make([]model.ProductTag, 0, len(list))
	for _, elem := range list {
		switch t := elem.(type) {
		case map[string]any:
			tag, _ := lookup(t, []string{"tag"})
			tags = append(tags, model.ProductTag{Tag: stringValue(tag)})
		case string:
			tags = append(tags, model.ProductTag{Tag: t})
		}
	}
	return tags
}
