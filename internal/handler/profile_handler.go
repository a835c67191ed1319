package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/askviz/internal/middleware"
	"github.com/hitoshi/askviz/internal/model"
)

// ProfileStoreInterface はプロフィールハンドラーが必要とするストアインターフェース。
// repository.ProfileRepositoryの部分集合として定義する。
type ProfileStoreInterface interface {
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	UpdateUsername(ctx context.Context, id, username string) (*model.Profile, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	store ProfileStoreInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(store ProfileStoreInterface) *ProfileHandler {
	return &ProfileHandler{store: store}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
type updateProfileRequest struct {
	Username string `json:"username"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProfileResponse(p *model.Profile) profileResponse {
	return profileResponse{
		ID:        p.ID,
		Username:  p.Username,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// Get は認証済みユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	profile, err := h.store.FindByID(r.Context(), session.Identity.ID)
	if err != nil {
		handleServiceError(w, model.NewUnexpectedError(err))
		return
	}
	if profile == nil {
		// サインアップ時にプロビジョニングされるため、通常は起こらない
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "プロフィールが見つかりません。",
			Category: "auth",
			Action:   "再度サインインしてください。",
		})
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// Update は認証済みユーザーのユーザー名を更新する。
// PATCH /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "ユーザー名が入力されていません。",
			Category: "validation",
			Action:   "ユーザー名を入力してください。",
		})
		return
	}

	profile, err := h.store.UpdateUsername(r.Context(), session.Identity.ID, username)
	if err != nil {
		handleServiceError(w, model.NewUnexpectedError(err))
		return
	}
	if profile == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "プロフィールが見つかりません。",
			Category: "auth",
			Action:   "再度サインインしてください。",
		})
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}
