// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/outlierscout/internal/metrics"
	"github.com/hitoshi/outlierscout/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer

	// スクレイピング
	Runner PipelineRunner

	// 外れ値一覧
	OutlierLister  OutlierLister
	OutliersSource string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → SecurityHeaders → CORS
//
// POST /api/scrape にはクライアントIPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	healthHandler := NewHealthHandler(deps.HealthChecker, deps.Logger)
	scrapeHandler := NewScrapeHandler(deps.Runner, deps.Logger)
	outlierHandler := NewOutlierHandler(deps.OutlierLister, deps.OutliersSource, deps.Logger)

	r.Get("/health", healthHandler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))

	r.Route("/api", func(r chi.Router) {
		r.With(deps.RateLimiter.Middleware()).Post("/scrape", scrapeHandler.Scrape)
		r.Get("/outliers", outlierHandler.ListOutliers)
	})

	return r
}
