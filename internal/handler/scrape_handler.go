package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/outlierscout/internal/middleware"
	"github.com/hitoshi/outlierscout/internal/model"
	"github.com/hitoshi/outlierscout/internal/pipeline"
	"github.com/hitoshi/outlierscout/internal/security"
)

// maxRequestBodyBytes はリクエストボディの最大サイズ。
const maxRequestBodyBytes = 1 << 20

// PipelineRunner はスクレイピングパイプラインを実行するインターフェース。
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// ScrapeHandler はスクレイピング実行のHTTPハンドラー。
type ScrapeHandler struct {
	runner PipelineRunner
	logger *slog.Logger
}

// NewScrapeHandler はScrapeHandlerを生成する。
func NewScrapeHandler(runner PipelineRunner, logger *slog.Logger) *ScrapeHandler {
	return &ScrapeHandler{
		runner: runner,
		logger: logger,
	}
}

// Scrape はカテゴリURLをスクレイピングし、外れ値の検出結果を返す。
// POST /api/scrape
func (h *ScrapeHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	result, err := h.runner.Run(r.Context(), req)
	if err != nil {
		h.handleRunError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// handleRunError はパイプラインのエラーをHTTPステータスに変換する。
// 入力検証のエラー以外は500とし、エラーメッセージをそのまま返す。
func (h *ScrapeHandler) handleRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrMissingCategoryURL) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingCategoryURLError())
		return
	}

	var invalid *pipeline.InvalidURLError
	if errors.As(err, &invalid) {
		var blocked *security.BlockedError
		if errors.As(err, &blocked) {
			middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewSSRFBlockedError())
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError(invalid.Err.Error()))
		return
	}

	middleware.WriteError(w, http.StatusInternalServerError, err.Error())
}
