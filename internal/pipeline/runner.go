// Package pipeline はカテゴリURL1件に対する一連の処理
// （検証 → スクレイピング → パース → 外れ値検出 → Notionレポート → Telegram通知）を実行する。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/outlierscout/internal/config"
	"github.com/hitoshi/outlierscout/internal/metrics"
	"github.com/hitoshi/outlierscout/internal/model"
	"github.com/hitoshi/outlierscout/internal/notify"
	"github.com/hitoshi/outlierscout/internal/parser"
	"github.com/hitoshi/outlierscout/internal/report"
	"github.com/hitoshi/outlierscout/internal/scrape"
)

// ErrMissingCategoryURL はカテゴリURLが指定されていないことを表す。
var ErrMissingCategoryURL = errors.New("missing categoryUrl")

// InvalidURLError はカテゴリURLが検証に失敗したことを表す。
type InvalidURLError struct {
	URL string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid categoryUrl: %v", e.Err)
}

// Unwrap は原因エラーを返す。
func (e *InvalidURLError) Unwrap() error {
	return e.Err
}

// URLValidator はカテゴリURLの事前検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Fetcher はカテゴリページを取得するインターフェース。
type Fetcher interface {
	FetchCategory(ctx context.Context, categoryURL string) (*scrape.Result, error)
}

// OutlierDetector は外れ値検出のインターフェース。
type OutlierDetector interface {
	Detect(ctx context.Context, snapshot *model.Snapshot) ([]model.OutlierRecord, error)
}

// Reporter はレポート作成のインターフェース。
type Reporter interface {
	Create(ctx context.Context, category string, outliers []model.OutlierRecord) (report.Result, error)
}

// Notifier はチャット通知のインターフェース。
type Notifier interface {
	Send(ctx context.Context, text, voiceURL string) (notify.Result, error)
}

// Request は1回の実行の入力を表す。
type Request struct {
	CategoryURL string `json:"categoryUrl"`
	Category    string `json:"category"`
	VoiceURL    string `json:"voiceUrl"`
}

// Result は1回の実行の結果を表す。APIレスポンスとしてそのまま返す。
type Result struct {
	Snapshot     *model.Snapshot       `json:"snapshot"`
	Outliers     []model.OutlierRecord `json:"outliers"`
	NotionResult report.Result         `json:"notionResult"`
	Telegram     notify.Result         `json:"-"`
}

// Runner はパイプラインを実行する。各ステップは逐次実行し、リトライは行わない。
type Runner struct {
	validator URLValidator
	fetcher   Fetcher
	detector  OutlierDetector
	reporter  Reporter
	notifier  Notifier
	sanitizer notify.TextSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner はRunnerを生成する。
func NewRunner(
	validator URLValidator,
	fetcher Fetcher,
	detector OutlierDetector,
	reporter Reporter,
	notifier Notifier,
	sanitizer notify.TextSanitizer,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		validator: validator,
		fetcher:   fetcher,
		detector:  detector,
		reporter:  reporter,
		notifier:  notifier,
		sanitizer: sanitizer,
		metrics:   mc,
		logger:    logger,
		now:       time.Now,
	}
}

// Normalize はカテゴリを小文字化し、未指定の場合はデフォルトカテゴリを補う。
func (req Request) Normalize() Request {
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = config.DefaultCategory
	}
	req.Category = strings.ToLower(category)
	req.CategoryURL = strings.TrimSpace(req.CategoryURL)
	req.VoiceURL = strings.TrimSpace(req.VoiceURL)
	return req
}

// Run はパイプラインを実行する。
// 外れ値がある場合のみNotionレポートを作成し、通知は外れ値の有無に関わらず送信する。
// 途中のステップが失敗した場合、それまでに完了した書き込みは取り消さない。
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	req = req.Normalize()

	// 1. 入力検証
	if req.CategoryURL == "" {
		return nil, ErrMissingCategoryURL
	}
	if err := r.validator.ValidateURL(req.CategoryURL); err != nil {
		r.logger.Warn("カテゴリURLの検証に失敗しました",
			slog.String("category_url", req.CategoryURL),
			slog.String("error", err.Error()),
		)
		return nil, &InvalidURLError{URL: req.CategoryURL, Err: err}
	}

	start := r.now()
	res, err := r.run(ctx, req)
	r.metrics.RecordRun(runResult(err))
	if err != nil {
		r.logger.Error("パイプラインの実行に失敗しました",
			slog.String("category", req.Category),
			slog.String("category_url", req.CategoryURL),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	r.logger.Info("パイプラインの実行が完了しました",
		slog.String("category", req.Category),
		slog.String("snapshot_id", res.Snapshot.SnapshotID),
		slog.Int("products", len(res.Snapshot.Products)),
		slog.Int("outliers", len(res.Outliers)),
		slog.Bool("notion_skipped", res.NotionResult.Skipped),
		slog.Bool("telegram_ok", res.Telegram.OK),
		slog.Float64("duration_ms", float64(r.now().Sub(start).Milliseconds())),
	)
	return res, nil
}

func (r *Runner) run(ctx context.Context, req Request) (*Result, error) {
	// 2. スクレイピング
	page, err := r.fetcher.FetchCategory(ctx, req.CategoryURL)
	if err != nil {
		return nil, fmt.Errorf("カテゴリページの取得に失敗しました: %w", err)
	}

	// 3. パース
	snapshot, err := parser.ParseAt(page.Body, req.Category, r.now())
	if err != nil {
		return nil, err
	}
	r.metrics.RecordProductsParsed(len(snapshot.Products))

	// 4. 外れ値検出と永続化
	outliers, err := r.detector.Detect(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("外れ値の検出に失敗しました: %w", err)
	}
	r.metrics.RecordOutliersDetected(snapshot.Category, len(outliers))

	// 5. Notionレポート（外れ値がある場合のみ）
	notionResult := report.Result{Skipped: true}
	if len(outliers) > 0 {
		notionResult, err = r.reporter.Create(ctx, req.Category, outliers)
		if err != nil {
			return nil, fmt.Errorf("Notionレポートの作成に失敗しました: %w", err)
		}
	}

	// 6. Telegram通知
	text := notify.FormatSummary(req.Category, outliers, r.sanitizer)
	telegram, err := r.notifier.Send(ctx, text, req.VoiceURL)
	if err != nil {
		return nil, fmt.Errorf("Telegram通知に失敗しました: %w", err)
	}

	return &Result{
		Snapshot:     snapshot,
		Outliers:     outliers,
		NotionResult: notionResult,
		Telegram:     telegram,
	}, nil
}

// runResult はエラーをメトリクスの実行結果ラベルに分類する。
func runResult(err error) string {
	if err == nil {
		return metrics.RunSuccess
	}
	var parseErr *model.ParseError
	if errors.As(err, &parseErr) {
		return metrics.RunParseError
	}
	var upErr *model.UpstreamError
	if errors.As(err, &upErr) {
		return metrics.RunUpstreamError
	}
	return metrics.RunFailure
}
