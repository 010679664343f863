// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hitoshi/outlierscout/internal/model"
)

// SnapshotRepository はスナップショット履歴（shein_raw_snapshots）の永続化インターフェース。
type SnapshotRepository interface {
	// InsertSnapshot はスナップショットの全商品を1行ずつ同一トランザクションで挿入する。
	// 商品が0件の場合は何もしない。
	InsertSnapshot(ctx context.Context, snapshot *model.Snapshot) error

	// ListHistory は指定カテゴリでcollected_at >= since の履歴行を返す。
	ListHistory(ctx context.Context, category string, since time.Time) ([]model.HistoryRecord, error)

	// DeleteCollectedBefore はcollected_atがbeforeより古い履歴行を削除し、削除件数を返す。
	DeleteCollectedBefore(ctx context.Context, before time.Time) (int64, error)
}

// OutlierRepository は検出済み外れ値（shein_outliers）の永続化インターフェース。
type OutlierRepository interface {
	// InsertOutliers は外れ値を1行ずつ同一トランザクションで挿入する。
	// 外れ値が0件の場合は何もしない。
	InsertOutliers(ctx context.Context, snapshotID string, outliers []model.OutlierRecord) error

	// ListRecent はcollected_atの降順で最新limit件のpayloadを返す。
	ListRecent(ctx context.Context, limit int) ([]json.RawMessage, error)
}
