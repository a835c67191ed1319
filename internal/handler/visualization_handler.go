package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/askviz/internal/middleware"
	"github.com/hitoshi/askviz/internal/model"
)

// VisualizationServiceInterface は可視化履歴ハンドラーが必要とするサービスインターフェース。
type VisualizationServiceInterface interface {
	// History は所有者の全履歴を作成日時の降順で返す。
	History(ctx context.Context, session *model.Session) ([]*model.Visualization, error)
	// Get は指定IDのレコードを返す。所有者以外には存在しない扱いでnilを返す。
	Get(ctx context.Context, session *model.Session, id string) (*model.Visualization, error)
}

// VisualizationHandler は可視化履歴のHTTPハンドラー。
type VisualizationHandler struct {
	service VisualizationServiceInterface
}

// NewVisualizationHandler はVisualizationHandlerを生成する。
func NewVisualizationHandler(service VisualizationServiceInterface) *VisualizationHandler {
	return &VisualizationHandler{service: service}
}

// List は認証済みユーザーの履歴一覧を返す。
// GET /api/visualizations
func (h *VisualizationHandler) List(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	history, err := h.service.History(r.Context(), session)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]visualizationResponse, len(history))
	for i, v := range history {
		resp[i] = toVisualizationResponse(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は指定IDのレコードを返す。
// GET /api/visualizations/{id}
func (h *VisualizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	id := chi.URLParam(r, "id")

	v, err := h.service.Get(r.Context(), session, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if v == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "指定された可視化レコードが見つかりません。",
			Category: "validation",
			Action:   "IDを確認してください。",
		})
		return
	}

	writeJSON(w, http.StatusOK, toVisualizationResponse(v))
}
