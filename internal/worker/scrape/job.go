// Package scrape は定期スクレイピングのバックグラウンド処理を提供する。
// cronスケジューラと、ターゲット一覧を順に実行するジョブを含む。
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/outlierscout/internal/config"
	"github.com/hitoshi/outlierscout/internal/pipeline"
)

// PipelineRunner はスクレイピングパイプラインの実行インターフェース。
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// TargetJob はターゲット一覧に対してパイプラインを1件ずつ順に実行する。
type TargetJob struct {
	runner  PipelineRunner
	targets []config.Target
	logger  *slog.Logger
}

// NewTargetJob はTargetJobを生成する。
func NewTargetJob(runner PipelineRunner, targets []config.Target, logger *slog.Logger) *TargetJob {
	return &TargetJob{
		runner:  runner,
		targets: targets,
		logger:  logger,
	}
}

// Run は全ターゲットを順に実行する。
// 1件の失敗はログに記録して次のターゲットへ進む。
// コンテキストがキャンセルされた場合は残りを実行せずにエラーを返す。
func (j *TargetJob) Run(ctx context.Context) error {
	start := time.Now()

	if len(j.targets) == 0 {
		j.logger.Info("スクレイピング対象のターゲットはありません")
		return nil
	}

	j.logger.Info("スクレイピングサイクルを開始します",
		slog.Int("target_count", len(j.targets)),
	)

	failed := 0
	for _, t := range j.targets {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("スクレイピングサイクルが中断されました: %w", err)
		}

		result, err := j.runner.Run(ctx, pipeline.Request{
			CategoryURL: t.URL,
			Category:    t.Category,
			VoiceURL:    t.VoiceURL,
		})
		if err != nil {
			failed++
			j.logger.Error("ターゲットのスクレイピングに失敗しました",
				slog.String("category", t.Category),
				slog.String("url", t.URL),
				slog.String("error", err.Error()),
			)
			continue
		}

		j.logger.Info("ターゲットのスクレイピングが完了しました",
			slog.String("category", t.Category),
			slog.Int("outliers", len(result.Outliers)),
		)
	}

	j.logger.Info("スクレイピングサイクルが完了しました",
		slog.Int("target_count", len(j.targets)),
		slog.Int("failed_count", failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
