package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/outlierscout/internal/model"
)

// PostgresOutlierRepo はPostgreSQLを使用した外れ値リポジトリ。
type PostgresOutlierRepo struct {
	db *sql.DB
}

// NewPostgresOutlierRepo はPostgresOutlierRepoを生成する。
func NewPostgresOutlierRepo(db *sql.DB) *PostgresOutlierRepo {
	return &PostgresOutlierRepo{db: db}
}

// InsertOutliers は外れ値を同一トランザクションで挿入する。
// payload列には外れ値レコード全体を保存し、price_brl・review_growth_weekly等は
// 検索用に非正規化して保存する。
func (r *PostgresOutlierRepo) InsertOutliers(ctx context.Context, snapshotID string, outliers []model.OutlierRecord) error {
	if len(outliers) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, o := range outliers {
		payload, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("外れ値ペイロードのエンコードに失敗しました: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO shein_outliers
			    (id, product_id, snapshot_id, payload, price_brl, review_growth_weekly, collected_at, category)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New().String(), o.ID, snapshotID, string(payload),
			decimal.NewFromFloat(o.PriceBRL), decimal.NewFromFloat(o.ReviewGrowthWeekly),
			o.CollectedAt, o.Category,
		)
		if err != nil {
			return fmt.Errorf("外れ値の挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListRecent はcollected_atの降順で最新limit件の外れ値payloadを返す。
func (r *PostgresOutlierRepo) ListRecent(ctx context.Context, limit int) ([]json.RawMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM shein_outliers ORDER BY collected_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("外れ値一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	payloads := make([]json.RawMessage, 0, limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("外れ値のスキャンに失敗しました: %w", err)
		}
		payloads = append(payloads, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("外れ値一覧の読み込みに失敗しました: %w", err)
	}

	return payloads, nil
}
