package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/outlierscout/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用したスナップショット履歴リポジトリ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// InsertSnapshot はスナップショットの全商品を同一トランザクションで挿入する。
// payload列には商品をJSONとしてそのまま保存する。
func (r *PostgresSnapshotRepo) InsertSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	if len(snapshot.Products) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range snapshot.Products {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("商品ペイロードのエンコードに失敗しました: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO shein_raw_snapshots
			    (id, snapshot_id, goods_id, payload, category, review_num, collected_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New().String(), snapshot.SnapshotID, p.ID, string(payload),
			snapshot.Category, p.ReviewCount, snapshot.CollectedAt,
		)
		if err != nil {
			return fmt.Errorf("スナップショット履歴の挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListHistory は指定カテゴリでcollected_at >= since の履歴行を返す。
func (r *PostgresSnapshotRepo) ListHistory(ctx context.Context, category string, since time.Time) ([]model.HistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT goods_id, review_num, collected_at
		 FROM shein_raw_snapshots
		 WHERE category = $1 AND collected_at >= $2`,
		category, since,
	)
	if err != nil {
		return nil, fmt.Errorf("レビュー履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []model.HistoryRecord
	for rows.Next() {
		var h model.HistoryRecord
		var reviewNum sql.NullInt64
		if err := rows.Scan(&h.GoodsID, &reviewNum, &h.CollectedAt); err != nil {
			return nil, fmt.Errorf("レビュー履歴のスキャンに失敗しました: %w", err)
		}
		h.ReviewNum = int(reviewNum.Int64)
		records = append(records, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("レビュー履歴の読み込みに失敗しました: %w", err)
	}

	return records, nil
}

// DeleteCollectedBefore はcollected_atがbeforeより古い履歴行を削除し、削除件数を返す。
func (r *PostgresSnapshotRepo) DeleteCollectedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM shein_raw_snapshots WHERE collected_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("スナップショット履歴の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}
