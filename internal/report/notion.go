// Package report は検出した外れ値をNotionデータベースのページとして公開する。
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jomei/notionapi"

	"github.com/hitoshi/outlierscout/internal/metrics"
	"github.com/hitoshi/outlierscout/internal/model"
)

const (
	// serviceName はメトリクスとエラーに付与するサービス名。
	serviceName = "notion"

	// maxBlocksPerRequest はNotion APIが1リクエストで受け付ける子ブロック数の上限。
	maxBlocksPerRequest = 100
)

// Result はレポート作成結果を表す。
type Result struct {
	Skipped bool   `json:"skipped"`
	PageID  string `json:"pageId,omitempty"`
	URL     string `json:"url,omitempty"`
}

// TextSanitizer は外部由来のテキストをプレーンテキストに整形する。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// Publisher はNotionデータベースにレポートページを作成する。
type Publisher struct {
	client     *notionapi.Client // 認証情報がない場合はnil
	databaseID string
	sanitizer  TextSanitizer
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewPublisher はPublisherを生成する。tokenまたはdatabaseIDが空の場合、Createは常にスキップする。
func NewPublisher(httpClient *http.Client, token, databaseID string, sanitizer TextSanitizer, mc metrics.MetricsCollector, logger *slog.Logger) *Publisher {
	p := &Publisher{
		databaseID: databaseID,
		sanitizer:  sanitizer,
		metrics:    mc,
		logger:     logger,
	}
	if token != "" && databaseID != "" {
		p.client = notionapi.NewClient(notionapi.Token(token), notionapi.WithHTTPClient(httpClient))
	}
	return p
}

// Enabled は認証情報が揃っているかを返す。
func (p *Publisher) Enabled() bool {
	return p.client != nil
}

// Create はカテゴリの外れ値一覧をページとして作成する。
// 認証情報がない場合、または外れ値が空の場合はスキップする。
func (p *Publisher) Create(ctx context.Context, category string, outliers []model.OutlierRecord) (Result, error) {
	if !p.Enabled() || len(outliers) == 0 {
		return Result{Skipped: true}, nil
	}

	blocks := p.buildBlocks(outliers)
	first := blocks
	if len(first) > maxBlocksPerRequest {
		first = blocks[:maxBlocksPerRequest]
	}

	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(p.databaseID),
		},
		Properties: buildProperties(category, len(outliers)),
		Children:   first,
	}
	if cover := outliers[0].ImageURL; cover != "" {
		req.Cover = externalImage(cover)
	}

	page, err := p.client.Page.Create(ctx, req)
	if err != nil {
		return Result{}, p.upstreamError("ページの作成", err)
	}
	p.metrics.RecordUpstreamStatus(serviceName, http.StatusOK)

	pageID := page.ID.String()

	// 上限を超えたブロックは作成したページに追記する
	for start := maxBlocksPerRequest; start < len(blocks); start += maxBlocksPerRequest {
		end := min(start+maxBlocksPerRequest, len(blocks))
		_, err := p.client.Block.AppendChildren(ctx, notionapi.BlockID(pageID), &notionapi.AppendBlockChildrenRequest{
			Children: blocks[start:end],
		})
		if err != nil {
			return Result{}, p.upstreamError("ブロックの追記", err)
		}
		p.metrics.RecordUpstreamStatus(serviceName, http.StatusOK)
	}

	p.logger.Info("Notionレポートを作成しました",
		slog.String("category", category),
		slog.String("page_id", pageID),
		slog.Int("outliers", len(outliers)),
	)

	return Result{PageID: pageID, URL: page.URL}, nil
}

func (p *Publisher) upstreamError(step string, err error) error {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		p.metrics.RecordUpstreamStatus(serviceName, apiErr.Status)
		p.logger.Error("Notion APIがエラーを返しました",
			slog.String("step", step),
			slog.Int("http_status", apiErr.Status),
			slog.String("code", string(apiErr.Code)),
			slog.String("error", apiErr.Message),
		)
		return &model.UpstreamError{
			Service:    serviceName,
			StatusCode: apiErr.Status,
			Message:    apiErr.Message,
		}
	}

	p.logger.Error("Notion APIの呼び出しに失敗しました",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	return &model.UpstreamError{
		Service: serviceName,
		Message: fmt.Sprintf("%s: %v", step, err),
	}
}

func buildProperties(category string, count int) notionapi.Properties {
	return notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{plainText(fmt.Sprintf("Outliers Shein · %s", category))},
		},
		"Category": notionapi.SelectProperty{
			Select: notionapi.Option{Name: category},
		},
		"# Productos": notionapi.NumberProperty{
			Number: float64(count),
		},
	}
}

// buildBlocks は外れ値1件ごとに見出し・概要・根拠・画像・ブックマークのブロックを並べる。
func (p *Publisher) buildBlocks(outliers []model.OutlierRecord) []notionapi.Block {
	blocks := make([]notionapi.Block, 0, len(outliers)*5)
	for _, o := range outliers {
		blocks = append(blocks,
			&notionapi.Heading2Block{
				BasicBlock: basicBlock(notionapi.BlockTypeHeading2),
				Heading2: notionapi.Heading{
					RichText: []notionapi.RichText{plainText(p.sanitizer.Sanitize(o.Title))},
				},
			},
			&notionapi.ParagraphBlock{
				BasicBlock: basicBlock(notionapi.BlockTypeParagraph),
				Paragraph: notionapi.Paragraph{
					RichText: []notionapi.RichText{plainText(fmt.Sprintf(
						"Precio: R$ %.2f · Reviews: %d · Crecimiento semanal: %.2f%%",
						o.PriceBRL, o.ReviewCount, o.ReviewGrowthWeekly,
					))},
				},
			},
			&notionapi.BulletedListItemBlock{
				BasicBlock: basicBlock(notionapi.BlockTypeBulletedListItem),
				BulletedListItem: notionapi.ListItem{
					RichText: []notionapi.RichText{plainText("Justificación: " + o.Justification)},
				},
			},
		)
		// 外部画像のURLが空のブロックはAPIに拒否される
		if o.ImageURL != "" {
			blocks = append(blocks, &notionapi.ImageBlock{
				BasicBlock: basicBlock(notionapi.BlockTypeImage),
				Image:      *externalImage(o.ImageURL),
			})
		}
		blocks = append(blocks, &notionapi.BookmarkBlock{
			BasicBlock: basicBlock(notionapi.BlockTypeBookmark),
			Bookmark:   notionapi.Bookmark{URL: o.ProductURL},
		})
	}
	return blocks
}

func basicBlock(t notionapi.BlockType) notionapi.BasicBlock {
	return notionapi.BasicBlock{
		Object: notionapi.ObjectTypeBlock,
		Type:   t,
	}
}

func plainText(content string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content},
	}
}

func externalImage(url string) *notionapi.Image {
	return &notionapi.Image{
		Type:     notionapi.FileTypeExternal,
		External: &notionapi.FileObject{URL: url},
	}
}
