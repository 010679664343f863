// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultCurrency はペイロードに通貨が含まれない場合に用いる通貨コード。
const DefaultCurrency = "BRL"

// ProductTag は商品に付与されたプロモーションラベルを表す。
type ProductTag struct {
	Tag string `json:"tag"`
}

// RawProduct はカテゴリページのペイロードから抽出した商品1件を表す。
// JSONフィールド名は取得元ペイロードに合わせており、
// スナップショット履歴のpayload列にもこの形で保存される。
type RawProduct struct {
	ID          string       `json:"goods_id"`
	Name        string       `json:"goods_name"`
	Price       float64      `json:"salePrice"`
	Currency    string       `json:"salePriceCurrency"`
	ImageURL    string       `json:"goods_img"`
	DetailURL   string       `json:"detail_url"`
	ReviewCount int          `json:"review_num"`
	Tags        []ProductTag `json:"tag_list"`
}

// IsComplete はID・商品名・詳細URLがすべて空でないかを返す。
// falseの商品はスナップショットに含めない。
func (p RawProduct) IsComplete() bool {
	return p.ID != "" && p.Name != "" && p.DetailURL != ""
}

// Snapshot はあるカテゴリの商品一覧を1回取得した結果を表す。
// パース時に1回だけ生成され、以後変更しない。
type Snapshot struct {
	SnapshotID  string       `json:"snapshotId"`
	CollectedAt time.Time    `json:"collectedAt"`
	Category    string       `json:"category"`
	Products    []RawProduct `json:"products"`
}

// HistoryRecord は過去スナップショットのレビュー数1行を表す。
// ベースライン算出専用の読み取り入力。
type HistoryRecord struct {
	GoodsID     string
	ReviewNum   int
	CollectedAt time.Time
}
