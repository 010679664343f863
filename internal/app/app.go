package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/outlierscout/internal/config"
	"github.com/hitoshi/outlierscout/internal/database"
	"github.com/hitoshi/outlierscout/internal/handler"
	"github.com/hitoshi/outlierscout/internal/logger"
	"github.com/hitoshi/outlierscout/internal/metrics"
	"github.com/hitoshi/outlierscout/internal/middleware"
	"github.com/hitoshi/outlierscout/internal/notify"
	"github.com/hitoshi/outlierscout/internal/outlier"
	"github.com/hitoshi/outlierscout/internal/pipeline"
	"github.com/hitoshi/outlierscout/internal/report"
	"github.com/hitoshi/outlierscout/internal/repository"
	"github.com/hitoshi/outlierscout/internal/scrape"
	"github.com/hitoshi/outlierscout/internal/security"
	"github.com/hitoshi/outlierscout/internal/worker/cleanup"
	scrapeworker "github.com/hitoshi/outlierscout/internal/worker/scrape"
)

// cleanupSchedule はスナップショット履歴クリーンアップの実行スケジュール。
const cleanupSchedule = "@daily"

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envを読み込み、環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("scraping_provider", cfg.ScrapingProvider),
		slog.Bool("notion_enabled", cfg.NotionEnabled()),
		slog.Bool("telegram_enabled", cfg.TelegramEnabled()),
	)

	ctx, cancel := signalContext()
	defer cancel()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateDirection(args))
	default:
		return runServe(ctx, cfg)
	}
}

// signalContext はSIGINTまたはSIGTERMを受信するとキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(stop)
		select {
		case sig := <-stop:
			slog.Info("shutdown signal received", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// components はserve・workerで共有するドメインの依存関係。
type components struct {
	runner    *pipeline.Runner
	snapshots *repository.PostgresSnapshotRepo
	outliers  *repository.PostgresOutlierRepo
}

// newComponents はリポジトリ・外部クライアント・パイプラインをワイヤリングする。
// 外部サービスへの送信はすべてSSRF防止付きのHTTPクライアントを使用する。
func newComponents(cfg *config.Config, db *sql.DB, mc metrics.MetricsCollector, log *slog.Logger) *components {
	// 1. リポジトリ
	snapshotRepo := repository.NewPostgresSnapshotRepo(db)
	outlierRepo := repository.NewPostgresOutlierRepo(db)

	// 2. セキュリティ
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()
	httpClient := ssrfGuard.NewSafeClient(cfg.HTTPTimeout)

	// 3. 外部サービス
	scrapeClient := scrape.NewClient(httpClient, cfg.ScrapingProvider, cfg.ScrapingAPIKey, cfg.ScrapeMaxBodyBytes, mc, log)
	publisher := report.NewPublisher(httpClient, cfg.NotionToken, cfg.NotionDatabaseID, sanitizer, mc, log)
	telegram := notify.NewTelegram(httpClient, cfg.TelegramBotToken, cfg.TelegramChatID, mc, log)

	// 4. 検出とパイプライン
	detector := outlier.NewDetector(snapshotRepo, snapshotRepo, outlierRepo, log)
	runner := pipeline.NewRunner(ssrfGuard, scrapeClient, detector, publisher, telegram, sanitizer, mc, log)

	return &components{
		runner:    runner,
		snapshots: snapshotRepo,
		outliers:  outlierRepo,
	}
}

// newRegistry はプロセス・Goランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newRouter はAPIサーバーのルーターを構築する。
func newRouter(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, comps *components, rl *middleware.RateLimiter) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		HealthChecker:     db,
		MetricsGatherer:   reg,
		Runner:            comps.runner,
		OutlierLister:     comps.outliers,
		OutliersSource:    cfg.DatabaseSource(),
	})
}

// serverWriteTimeout はスクレイピング・Notion・Telegramを逐次呼び出す最悪時間にあわせた書き込みタイムアウト。
func serverWriteTimeout(httpTimeout time.Duration) time.Duration {
	return 3*httpTimeout + 15*time.Second
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// コンテキストがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established",
		slog.String("database", cfg.DatabaseSource()),
	)

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. ドメインの依存関係
	comps := newComponents(cfg, db, collector, slog.Default())

	// 4. ルーターの構築
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitScrape), slog.Default())
	defer rl.Stop()

	router := newRouter(cfg, db, reg, comps, rl)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: serverWriteTimeout(cfg.HTTPTimeout),
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ターゲットファイルを読み込み、cronスケジュールで全ターゲットを順に処理する。
// スナップショット履歴のクリーンアップは起動直後と日次で実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. ターゲットとタイムゾーン
	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}
	loc, err := time.LoadLocation(cfg.ScrapeTimezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone: %w", err)
	}

	// 2. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)",
		slog.String("database", cfg.DatabaseSource()),
	)

	// 3. ドメインの依存関係（ワーカーはメトリクスを公開しない）
	comps := newComponents(cfg, db, metrics.Nop{}, slog.Default())

	// 4. ジョブの登録
	targetJob := scrapeworker.NewTargetJob(comps.runner, targets, slog.Default())
	cleanupJob := cleanup.NewCleanupJob(comps.snapshots, cfg.SnapshotRetentionDays, slog.Default())

	scheduler := scrapeworker.NewScheduler(loc, slog.Default())
	if err := scheduler.Add(ctx, "scrape", cfg.ScrapeSchedule, targetJob.Run); err != nil {
		return err
	}
	if err := scheduler.Add(ctx, "cleanup", cleanupSchedule, cleanupJob.Run); err != nil {
		return err
	}

	slog.Info("worker starting",
		slog.Int("target_count", len(targets)),
		slog.String("schedule", cfg.ScrapeSchedule),
		slog.String("timezone", cfg.ScrapeTimezone),
		slog.Int("retention_days", cfg.SnapshotRetentionDays),
	)

	// 起動直後に1回クリーンアップを実行
	if err := cleanupJob.Run(ctx); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// MigrateUpは未適用のマイグレーションをすべて適用し、MigrateDownは直近の1件をロールバックする。
func runMigrate(cfg *config.Config, direction MigrateDirection) error {
	slog.Info("running database migrations",
		slog.String("database", cfg.DatabaseSource()),
		slog.String("direction", string(direction)),
	)

	if direction == MigrateDown {
		if err := database.RollbackMigrations(cfg.DatabaseURL, 1); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migration rolled back successfully")
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
