package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/askviz/internal/ask"
	"github.com/hitoshi/askviz/internal/middleware"
	"github.com/hitoshi/askviz/internal/model"
)

// AskServiceInterface は質問ハンドラーが必要とするサービスインターフェース。
type AskServiceInterface interface {
	Ask(ctx context.Context, session *model.Session, question string) (*ask.Result, error)
}

// AskHandler は質問操作のHTTPハンドラー。
type AskHandler struct {
	service AskServiceInterface
}

// NewAskHandler はAskHandlerを生成する。
func NewAskHandler(service AskServiceInterface) *AskHandler {
	return &AskHandler{service: service}
}

// askRequest は質問リクエストのボディ。
type askRequest struct {
	Question string `json:"question"`
}

// visualizationResponse は可視化レコードのAPIレスポンス。
type visualizationResponse struct {
	ID                string                  `json:"id"`
	Question          string                  `json:"question"`
	Answer            string                  `json:"answer"`
	VisualizationData model.VisualizationSpec `json:"visualization_data"`
	CreatedAt         time.Time               `json:"created_at"`
}

func toVisualizationResponse(v *model.Visualization) visualizationResponse {
	return visualizationResponse{
		ID:                v.ID,
		Question:          v.Question,
		Answer:            v.Answer,
		VisualizationData: v.Spec,
		CreatedAt:         v.CreatedAt,
	}
}

// askResponse は質問操作成功時のレスポンス。
// HistoryErrorは履歴再取得だけが失敗した場合にのみ設定される。
type askResponse struct {
	Visualization visualizationResponse   `json:"visualization"`
	History       []visualizationResponse `json:"history"`
	HistoryError  *apiErrorResponse       `json:"history_error,omitempty"`
}

// askPersistenceFailedResponse は保存失敗時のレスポンス。
// エラー情報に加えて、生成済みで保存されなかった回答を含む。
type askPersistenceFailedResponse struct {
	apiErrorResponse
	Answer            string                  `json:"answer"`
	VisualizationData model.VisualizationSpec `json:"visualization_data"`
	Saved             bool                    `json:"saved"`
}

// Ask は質問を受け付け、生成・保存・履歴再取得を実行する。
// POST /api/ask
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return
	}

	result, err := h.service.Ask(r.Context(), session, req.Question)
	if err != nil {
		var apiErr *model.APIError
		// 保存失敗時は生成済みの回答をエラーと一緒に返す
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodePersistenceFailed && result != nil {
			writeJSON(w, middleware.StatusForAPIError(apiErr), askPersistenceFailedResponse{
				apiErrorResponse:  toAPIErrorResponse(apiErr),
				Answer:            result.Answer,
				VisualizationData: result.Spec,
				Saved:             false,
			})
			return
		}
		handleServiceError(w, err)
		return
	}

	resp := askResponse{
		Visualization: toVisualizationResponse(result.Record),
		History:       make([]visualizationResponse, len(result.History)),
	}
	for i, v := range result.History {
		resp.History[i] = toVisualizationResponse(v)
	}
	if result.HistoryErr != nil {
		body := toAPIErrorResponse(result.HistoryErr)
		resp.HistoryError = &body
	}

	writeJSON(w, http.StatusCreated, resp)
}
