// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 実行結果ラベル
const (
	RunSuccess       = "success"
	RunParseError    = "parse_error"
	RunUpstreamError = "upstream_error"
	RunFailure       = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインと外部APIクライアントから利用する。
type MetricsCollector interface {
	RecordRun(result string)
	RecordProductsParsed(count int)
	RecordOutliersDetected(category string, count int)
	RecordUpstreamStatus(service string, statusCode int)
	RecordScrapeLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	runs             *prometheus.CounterVec
	productsParsed   prometheus.Counter
	outliersDetected *prometheus.CounterVec
	upstreamStatus   *prometheus.CounterVec
	scrapeLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlierscout_runs_total",
			Help: "スクレイピング実行の結果別合計数",
		}, []string{"result"}),
		productsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outlierscout_products_parsed_total",
			Help: "ペイロードから抽出した商品の合計数",
		}),
		outliersDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlierscout_outliers_detected_total",
			Help: "カテゴリ別に検出した外れ値の合計数",
		}, []string{"category"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlierscout_upstream_status_total",
			Help: "外部サービス・HTTPステータスコード別のレスポンス数",
		}, []string{"service", "status_code"}),
		scrapeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "outlierscout_scrape_latency_seconds",
			Help: "スクレイピングプロバイダ呼び出しのレイテンシ（秒）",
			// JSレンダリング付きのプロバイダ呼び出しは数十秒かかる
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}),
	}

	reg.MustRegister(
		c.runs,
		c.productsParsed,
		c.outliersDetected,
		c.upstreamStatus,
		c.scrapeLatency,
	)

	return c
}

// RecordRun は実行結果を記録する。
func (c *Collector) RecordRun(result string) {
	c.runs.WithLabelValues(result).Inc()
}

// RecordProductsParsed は抽出した商品数を記録する。
func (c *Collector) RecordProductsParsed(count int) {
	c.productsParsed.Add(float64(count))
}

// RecordOutliersDetected は検出した外れ値数を記録する。
func (c *Collector) RecordOutliersDetected(category string, count int) {
	c.outliersDetected.WithLabelValues(category).Add(float64(count))
}

// RecordUpstreamStatus は外部サービスのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(service string, statusCode int) {
	c.upstreamStatus.WithLabelValues(service, strconv.Itoa(statusCode)).Inc()
}

// RecordScrapeLatency はスクレイピングのレイテンシを記録する。
func (c *Collector) RecordScrapeLatency(duration time.Duration) {
	c.scrapeLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。メトリクスを公開しないコマンドで使用する。
type Nop struct{}

func (Nop) RecordRun(string)                   {}
func (Nop) RecordProductsParsed(int)           {}
func (Nop) RecordOutliersDetected(string, int) {}
func (Nop) RecordUpstreamStatus(string, int)   {}
func (Nop) RecordScrapeLatency(time.Duration)  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
