// Package cleanup はスナップショット履歴の自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過したshein_raw_snapshotsの行を
// 日次バッチで削除する。外れ値テーブルは削除対象外。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays はスナップショット履歴のデフォルト保持日数。
const DefaultRetentionDays = 90

// SnapshotPurger は古いスナップショット履歴を削除するインターフェース。
// repository.PostgresSnapshotRepoが実装する。
type SnapshotPurger interface {
	DeleteCollectedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したスナップショット履歴の自動削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	repo          SnapshotPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使用する。
func NewCleanupJob(repo SnapshotPurger, retentionDays int, logger *slog.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		repo:          repo,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run はcollected_atがRetentionDays日前より古い履歴行を削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	before := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.repo.DeleteCollectedBefore(ctx, before)
	if err != nil {
		j.logger.Error("スナップショット履歴の削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("スナップショット履歴のクリーンアップに失敗: %w", err)
	}

	j.logger.Info("スナップショット履歴のクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("before", before),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
