// Package notify はTelegramへの外れ値サマリー通知を提供する。
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hitoshi/outlierscout/internal/metrics"
	"github.com/hitoshi/outlierscout/internal/model"
)

// serviceName はメトリクスとエラーに付与するサービス名。
const serviceName = "telegram"

// Result は通知結果を表す。
type Result struct {
	Skipped bool `json:"skipped"`
	OK      bool `json:"ok"`
}

// Telegram はBot API経由でチャットにメッセージと音声を送信する。
type Telegram struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	token      string
	chatID     string
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewTelegram はTelegramを生成する。tokenまたはchatIDが空の場合、Sendは常にスキップする。
// chatIDは数値IDまたは @channel 形式のユーザー名を受け付ける。
func NewTelegram(httpClient *http.Client, token, chatID string, mc metrics.MetricsCollector, logger *slog.Logger) *Telegram {
	return &Telegram{
		httpClient: httpClient,
		logger:     logger,
		metrics:    mc,
		token:      token,
		chatID:     chatID,
		endpoint:   tgbotapi.APIEndpoint,
	}
}

// Enabled は認証情報が揃っているかを返す。
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

// Send はMarkdown形式のテキストを送信し、voiceURLが指定されていれば続けて音声を送信する。
// Telegramが送信を拒否した場合はOK=falseを返し、エラーにはしない。
// 通信自体に失敗した場合は *model.UpstreamError を返す。
func (t *Telegram) Send(ctx context.Context, text, voiceURL string) (Result, error) {
	if !t.Enabled() {
		return Result{Skipped: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.httpClient)
	if err != nil {
		return t.handleError("getMe", err)
	}

	msg := newMessage(t.chatID, text)
	if _, err := bot.Send(msg); err != nil {
		return t.handleError("sendMessage", err)
	}
	t.metrics.RecordUpstreamStatus(serviceName, http.StatusOK)

	if voiceURL != "" {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		voice := newVoice(t.chatID, voiceURL)
		if _, err := bot.Send(voice); err != nil {
			return t.handleError("sendVoice", err)
		}
		t.metrics.RecordUpstreamStatus(serviceName, http.StatusOK)
	}

	t.logger.Info("Telegram通知を送信しました",
		slog.String("chat_id", t.chatID),
		slog.Bool("voice", voiceURL != ""),
	)

	return Result{OK: true}, nil
}

// handleError はBot APIのエラーを分類する。APIが返したエラーはOK=falseとして扱う。
func (t *Telegram) handleError(method string, err error) (Result, error) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		t.metrics.RecordUpstreamStatus(serviceName, apiErr.Code)
		t.logger.Warn("Telegramがリクエストを拒否しました",
			slog.String("method", method),
			slog.Int("http_status", apiErr.Code),
			slog.String("error", apiErr.Message),
		)
		return Result{OK: false}, nil
	}

	t.logger.Error("Telegram APIの呼び出しに失敗しました",
		slog.String("method", method),
		slog.String("error", err.Error()),
	)
	return Result{}, &model.UpstreamError{
		Service: serviceName,
		Message: fmt.Sprintf("%s: %v", method, err),
	}
}

func newMessage(chatID, text string) tgbotapi.MessageConfig {
	var msg tgbotapi.MessageConfig
	if id, ok := parseChatID(chatID); ok {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(chatID, text)
	}
	msg.ParseMode = tgbotapi.ModeMarkdown
	return msg
}

func newVoice(chatID, voiceURL string) tgbotapi.VoiceConfig {
	id, ok := parseChatID(chatID)
	voice := tgbotapi.NewVoice(id, tgbotapi.FileURL(voiceURL))
	if !ok {
		voice.ChannelUsername = chatID
	}
	return voice
}

// parseChatID は数値のチャットIDを返す。@channel 形式の場合はfalse。
func parseChatID(chatID string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
