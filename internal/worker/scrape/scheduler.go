package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc はスケジューラから起動されるジョブ。
type JobFunc func(ctx context.Context) error

// Scheduler はcron式に従ってジョブを起動する。
// 前回の実行が終わっていないジョブは次の起動をスキップする。
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler は指定タイムゾーンで動作するSchedulerを生成する。
func NewScheduler(loc *time.Location, logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Add はジョブをcron式（5フィールドまたは@daily等の記述子）で登録する。
// ジョブにはStartに渡したコンテキストが渡される。
func (s *Scheduler) Add(ctx context.Context, name, spec string, job JobFunc) error {
	if _, err := s.cron.AddFunc(spec, s.wrap(ctx, name, job)); err != nil {
		return fmt.Errorf("ジョブ %s の登録に失敗: %w", name, err)
	}
	s.logger.Info("ジョブを登録しました",
		slog.String("job", name),
		slog.String("schedule", spec),
	)
	return nil
}

// Len は登録済みのジョブ数を返す。
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start はスケジューラを起動し、コンテキストがキャンセルされるまでブロックする。
// 停止時は実行中のジョブの完了を待つ。
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("スケジューラを開始しました",
		slog.Int("job_count", s.Len()),
	)

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("スケジューラを停止しました")
}

// wrap はジョブの実行時間と失敗をログに記録するcron用の関数を返す。
func (s *Scheduler) wrap(ctx context.Context, name string, job JobFunc) func() {
	return func() {
		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("ジョブの実行に失敗しました",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Info("ジョブが完了しました",
			slog.String("job", name),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
}

// cronLogger はcron.Loggerをslogで実装する。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
