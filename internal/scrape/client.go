// Package scrape はスクレイピングプロバイダ（ScrapingBee / ZenRows）経由で
// JSレンダリング済みのカテゴリページHTMLを取得する。
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/outlierscout/internal/config"
	"github.com/hitoshi/outlierscout/internal/metrics"
	"github.com/hitoshi/outlierscout/internal/model"
)

const (
	scrapingBeeEndpoint = "https://app.scrapingbee.com/api/v1"
	zenRowsEndpoint     = "https://api.zenrows.com/v1"

	// serviceName はメトリクスとエラーに付与するサービス名。
	serviceName = "scrape"

	// maxErrorBodyBytes はエラーメッセージに含めるレスポンスボディの最大長。
	maxErrorBodyBytes = 512

	// DefaultMaxBodySize はレスポンスボディの読み取り上限（10MB）。
	DefaultMaxBodySize int64 = 10 * 1024 * 1024
)

// Result はプロバイダから取得したページを表す。
type Result struct {
	Status int
	Body   string
}

// Client はスクレイピングプロバイダのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	provider   string
	apiKey     string
	endpoint   string // テスト用にエンドポイントを差し替え可能

	maxBodySize int64
}

// NewClient はClientを生成する。providerは config.ProviderScrapingBee または
// config.ProviderZenRows。それ以外はScrapingBeeとして扱う。
// maxBodySizeが0以下の場合は DefaultMaxBodySize を使う。
func NewClient(httpClient *http.Client, provider, apiKey string, maxBodySize int64, mc metrics.MetricsCollector, logger *slog.Logger) *Client {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	endpoint := scrapingBeeEndpoint
	if provider == config.ProviderZenRows {
		endpoint = zenRowsEndpoint
	} else {
		provider = config.ProviderScrapingBee
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    mc,
		provider:   provider,
		apiKey:     apiKey,
		endpoint:   endpoint,

		maxBodySize: maxBodySize,
	}
}

// Provider は使用中のプロバイダ名を返す。
func (c *Client) Provider() string {
	return c.provider
}

// FetchCategory はカテゴリURLのHTMLをプロバイダ経由で取得する。
// 2xx以外のレスポンスは *model.UpstreamError を返す。リトライは行わない。
func (c *Client) FetchCategory(ctx context.Context, categoryURL string) (*Result, error) {
	reqURL, err := c.buildURL(categoryURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordScrapeLatency(time.Since(start))
	if err != nil {
		c.logger.Error("スクレイピングプロバイダの呼び出しに失敗しました",
			slog.String("provider", c.provider),
			slog.String("category_url", categoryURL),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("スクレイピングプロバイダの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.RecordUpstreamStatus(serviceName, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("provider", c.provider),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("スクレイピングプロバイダがエラーステータスを返しました",
			slog.String("provider", c.provider),
			slog.String("category_url", categoryURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &model.UpstreamError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(body)), maxErrorBodyBytes),
		}
	}

	c.logger.Debug("カテゴリページを取得しました",
		slog.String("provider", c.provider),
		slog.String("category_url", categoryURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("bytes", len(body)),
	)

	return &Result{Status: resp.StatusCode, Body: string(body)}, nil
}

// buildURL はプロバイダごとのクエリパラメータを付与したリクエストURLを組み立てる。
func (c *Client) buildURL(categoryURL string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := u.Query()
	q.Set("url", categoryURL)
	switch c.provider {
	case config.ProviderZenRows:
		q.Set("apikey", c.apiKey)
		q.Set("js_render", "true")
		q.Set("premium_proxy", "true")
		q.Set("proxy_country", "br")
	default:
		q.Set("api_key", c.apiKey)
		q.Set("render_js", "true")
		q.Set("premium_proxy", "true")
		q.Set("stealth_proxy", "true")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
