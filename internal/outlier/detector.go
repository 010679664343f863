// Package outlier はスナップショットと過去履歴のレビュー数を比較し、
// 急成長商品と低飽和のHot Sale商品を外れ値として検出する。
package outlier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/outlierscout/internal/model"
)

// LookbackWindow はベースライン算出に用いる履歴の期間。
const LookbackWindow = 14 * 24 * time.Hour

// 判定ルールの定数。
var (
	growthThreshold   = decimal.NewFromInt(20)
	syntheticRatio    = decimal.NewFromFloat(0.25)
	brlPerForeignUnit = decimal.NewFromFloat(5.2) // 固定換算レート。実際の為替レートではない
	hundred           = decimal.NewFromInt(100)
)

// scarceReviewLimit 未満のレビュー数でHotタグを持つ商品は低飽和とみなす。
const scarceReviewLimit = 100

// 外れ値の根拠文。どちらか一方のみを設定する。
const (
	JustificationScarceHotSale = "Etiqueta Hot Sale con tracción inicial y baja saturación (<100 reseñas)."
	JustificationGrowth        = "Crecimiento de reseñas >20% en la última semana según histórico Supabase."
)

// allowedCategories は検出対象のカテゴリ。これ以外は検出・永続化を行わない。
var allowedCategories = map[string]struct{}{
	"conjuntos de alfaiataria": {},
	"vestidos de verão":        {},
}

// IsAllowedCategory はカテゴリが検出対象かを返す。
func IsAllowedCategory(category string) bool {
	_, ok := allowedCategories[category]
	return ok
}

// HistoryReader はカテゴリの過去レビュー数を読むインターフェース。
type HistoryReader interface {
	ListHistory(ctx context.Context, category string, since time.Time) ([]model.HistoryRecord, error)
}

// SnapshotWriter はスナップショット全商品を履歴として書き込むインターフェース。
type SnapshotWriter interface {
	InsertSnapshot(ctx context.Context, snapshot *model.Snapshot) error
}

// OutlierWriter は検出した外れ値を書き込むインターフェース。
type OutlierWriter interface {
	InsertOutliers(ctx context.Context, snapshotID string, outliers []model.OutlierRecord) error
}

// Detector は外れ値検出を行う。
type Detector struct {
	history   HistoryReader
	snapshots SnapshotWriter
	outliers  OutlierWriter
	logger    *slog.Logger
}

// NewDetector はDetectorを生成する。
func NewDetector(history HistoryReader, snapshots SnapshotWriter, outliers OutlierWriter, logger *slog.Logger) *Detector {
	return &Detector{
		history:   history,
		snapshots: snapshots,
		outliers:  outliers,
		logger:    logger,
	}
}

// Detect はスナップショットから外れ値を検出し、履歴と外れ値を永続化する。
// 戻り値の順序はsnapshot.Productsの順序を保つ。
// 対象外カテゴリの場合は読み書きを一切行わず空の結果を返す。
// 履歴の読み込み・書き込みのいずれかが失敗した場合は全体を失敗とする。
func (d *Detector) Detect(ctx context.Context, snapshot *model.Snapshot) ([]model.OutlierRecord, error) {
	// 1. カテゴリゲート
	if !IsAllowedCategory(snapshot.Category) {
		d.logger.Info("検出対象外のカテゴリのためスキップしました",
			slog.String("category", snapshot.Category),
			slog.String("snapshot_id", snapshot.SnapshotID),
		)
		return []model.OutlierRecord{}, nil
	}

	// 2. ベースライン算出
	since := snapshot.CollectedAt.Add(-LookbackWindow)
	history, err := d.history.ListHistory(ctx, snapshot.Category, since)
	if err != nil {
		return nil, fmt.Errorf("レビュー履歴の取得に失敗しました: %w", err)
	}
	baselines := Baselines(history)

	// 3〜7. 商品ごとの成長率算出と判定
	outliers := make([]model.OutlierRecord, 0)
	for _, p := range snapshot.Products {
		rec, ok := Evaluate(p, baselines[p.ID], snapshot.CollectedAt, snapshot.Category)
		if ok {
			outliers = append(outliers, rec)
		}
	}

	// 8. 永続化
	if len(snapshot.Products) > 0 {
		if err := d.snapshots.InsertSnapshot(ctx, snapshot); err != nil {
			return nil, fmt.Errorf("スナップショットの保存に失敗しました: %w", err)
		}
	}
	if len(outliers) > 0 {
		if err := d.outliers.InsertOutliers(ctx, snapshot.SnapshotID, outliers); err != nil {
			return nil, fmt.Errorf("外れ値の保存に失敗しました: %w", err)
		}
	}

	d.logger.Info("外れ値検出が完了しました",
		slog.String("category", snapshot.Category),
		slog.String("snapshot_id", snapshot.SnapshotID),
		slog.Int("products", len(snapshot.Products)),
		slog.Int("history_rows", len(history)),
		slog.Int("outliers", len(outliers)),
	)

	return outliers, nil
}

// Baselines は商品IDごとに履歴上の最大レビュー数を返す。
func Baselines(history []model.HistoryRecord) map[string]int {
	baselines := make(map[string]int, len(history))
	for _, h := range history {
		if cur, ok := baselines[h.GoodsID]; !ok || h.ReviewNum > cur {
			baselines[h.GoodsID] = h.ReviewNum
		}
	}
	return baselines
}

// Growth はベースラインに対するレビュー数の増加率（%）を丸めずに返す。
// ベースラインが0の場合は max(reviewCount*0.25, 1) を代替ベースラインとする。
func Growth(reviewCount, baseline int) decimal.Decimal {
	current := decimal.NewFromInt(int64(reviewCount))
	base := decimal.NewFromInt(int64(baseline))
	if baseline == 0 {
		base = decimal.Max(current.Mul(syntheticRatio), decimal.NewFromInt(1))
	}
	return current.Sub(base).Div(base).Mul(hundred)
}

// PriceBRL は価格をBRLに換算する。BRL以外は固定レートを掛ける。
func PriceBRL(price float64, currency string) float64 {
	if currency == model.DefaultCurrency {
		return price
	}
	return decimal.NewFromFloat(price).Mul(brlPerForeignUnit).InexactFloat64()
}

// IsScarceHotSale は「hot」を含むタグを持ち、レビュー数が100未満かを返す。
func IsScarceHotSale(p model.RawProduct) bool {
	if p.ReviewCount >= scarceReviewLimit {
		return false
	}
	for _, t := range p.Tags {
		if strings.Contains(strings.ToLower(t.Tag), "hot") {
			return true
		}
	}
	return false
}

// Evaluate は商品1件を判定し、外れ値の場合はOutlierRecordとtrueを返す。
func Evaluate(p model.RawProduct, baseline int, collectedAt time.Time, category string) (model.OutlierRecord, bool) {
	growth := Growth(p.ReviewCount, baseline)
	isGrowthOutlier := growth.GreaterThanOrEqual(growthThreshold)
	isScarceHotSale := IsScarceHotSale(p)
	if !isGrowthOutlier && !isScarceHotSale {
		return model.OutlierRecord{}, false
	}

	justification := JustificationGrowth
	if isScarceHotSale {
		justification = JustificationScarceHotSale
	}

	return model.OutlierRecord{
		ID:                 p.ID,
		Title:              p.Name,
		ImageURL:           p.ImageURL,
		ProductURL:         p.DetailURL,
		PriceBRL:           PriceBRL(p.Price, p.Currency),
		ReviewCount:        p.ReviewCount,
		ReviewGrowthWeekly: growth.Round(2).InexactFloat64(),
		Tags:               tagTexts(p.Tags),
		Justification:      justification,
		CollectedAt:        collectedAt,
		Category:           category,
	}, true
}

// tagTexts はタグ文字列を前後の空白を除いて取り出す。空のタグは除外する。
func tagTexts(tags []model.ProductTag) []string {
	texts := make([]string, 0, len(tags))
	for _, t := range tags {
		if s := strings.TrimSpace(t.Tag); s != "" {
			texts = append(texts, s)
		}
	}
	return texts
}
