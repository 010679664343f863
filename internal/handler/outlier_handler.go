package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/outlierscout/internal/middleware"
)

// recentOutliersLimit はダッシュボードに返す外れ値の件数。
const recentOutliersLimit = 20

// OutlierLister は最新の外れ値payloadを取得するインターフェース。
type OutlierLister interface {
	ListRecent(ctx context.Context, limit int) ([]json.RawMessage, error)
}

// OutlierHandler は検出済み外れ値一覧のHTTPハンドラー。
type OutlierHandler struct {
	lister OutlierLister
	source string
	logger *slog.Logger
}

// NewOutlierHandler はOutlierHandlerを生成する。sourceはレスポンスのsourceにそのまま出力する。
func NewOutlierHandler(lister OutlierLister, source string, logger *slog.Logger) *OutlierHandler {
	return &OutlierHandler{
		lister: lister,
		source: source,
		logger: logger,
	}
}

// listOutliersResponse は外れ値一覧のAPIレスポンス。
type listOutliersResponse struct {
	Source string            `json:"source"`
	Items  []json.RawMessage `json:"items"`
}

// ListOutliers は収集日時の新しい順に最新20件の外れ値を返す。
// GET /api/outliers
func (h *OutlierHandler) ListOutliers(w http.ResponseWriter, r *http.Request) {
	items, err := h.lister.ListRecent(r.Context(), recentOutliersLimit)
	if err != nil {
		h.logger.Error("外れ値一覧の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []json.RawMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(listOutliersResponse{
		Source: h.source,
		Items:  items,
	})
}
