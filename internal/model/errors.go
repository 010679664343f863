package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeMissingCategoryURL = "MISSING_CATEGORY_URL"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewMissingCategoryURLError はcategoryUrl未指定エラーを生成する。
func NewMissingCategoryURLError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCategoryURL,
		Message:  "Missing categoryUrl",
		Category: "validation",
		Action:   "スクレイピング対象のカテゴリURLを categoryUrl に指定してください。",
	}
}

// NewInvalidRequestError はリクエストボディ不正エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているカテゴリページのURLを入力してください。",
	}
}

// ParseErrorKind はペイロード解析失敗の種別を表す。
type ParseErrorKind string

const (
	// ParseErrorPayloadNotFound は埋め込みペイロードのマーカーが見つからないことを示す。
	ParseErrorPayloadNotFound ParseErrorKind = "payload_not_found"
	// ParseErrorInvalidJSON はマーカー内のブロックがJSONとして不正であることを示す。
	ParseErrorInvalidJSON ParseErrorKind = "invalid_json"
	// ParseErrorNoProducts は商品リストが存在しない、配列でない、または空であることを示す。
	ParseErrorNoProducts ParseErrorKind = "no_products"
)

// ParseError はカテゴリページの埋め込みペイロードを解析できなかったことを表す。
// 永続化の前に実行を中断する。
type ParseError struct {
	Kind ParseErrorKind
	Err  error // JSONデコードエラーなどの原因（任意）
}

// Error はerrorインターフェースを実装する。
func (e *ParseError) Error() string {
	switch e.Kind {
	case ParseErrorPayloadNotFound:
		return "unable to locate Shein payload"
	case ParseErrorInvalidJSON:
		return fmt.Sprintf("failed to parse Shein payload: %v", e.Err)
	case ParseErrorNoProducts:
		return "no products detected in Shein payload"
	default:
		return fmt.Sprintf("parse error: %s", e.Kind)
	}
}

// Unwrap は原因エラーを返す。
func (e *ParseError) Unwrap() error {
	return e.Err
}

// UpstreamError は外部サービス（スクレイピング、Telegram、Notion）が
// 成功以外の応答を返したことを表す。
type UpstreamError struct {
	Service    string // scrape, telegram, notion
	StatusCode int    // HTTPステータス（取得できない場合は0）
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream returned %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// ConfigError は必須設定の欠落または不正値を表す。起動時に致命的エラーとして扱う。
type ConfigError struct {
	Missing []string // 未設定の必須環境変数
	Invalid []string // 値が不正な環境変数（"KEY: 理由" 形式）
}

// Error はerrorインターフェースを実装する。
func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("required environment variables are not set: %v", e.Missing))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid environment variables: %s", strings.Join(e.Invalid, "; ")))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}
