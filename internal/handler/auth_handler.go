// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/askviz/internal/middleware"
	"github.com/hitoshi/askviz/internal/model"
)

// SessionCoordinator は認証ハンドラーが必要とするコーディネーターの操作。
// session.Coordinatorの部分集合として定義する。
type SessionCoordinator interface {
	SignIn(ctx context.Context, email, password string) (*model.Identity, error)
	SignUp(ctx context.Context, email, password, username string) (*model.Identity, error)
	SignOut(ctx context.Context) error
	SignInWithProvider(ctx context.Context, providerName, redirectTo string) (string, error)
	Current() *model.Session
}

// CoordinatorRegistry はクライアントコンテキストIDからコーディネーターを
// 取得するインターフェース。
type CoordinatorRegistry interface {
	// GetOrCreate はコーディネーターを取得し、無ければ生成する。
	GetOrCreate(ctx context.Context, clientID string) (SessionCoordinator, error)
	// Lookup は既存のコーディネーターを返す。存在しない場合はnil。
	Lookup(clientID string) SessionCoordinator
}

// RedirectValidator は外部プロバイダー認証のリダイレクト先URLを検証する。
type RedirectValidator interface {
	ValidateURL(rawURL string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
	CookieMaxAge int // クライアントコンテキストCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
// クライアントコンテキストCookieの発行と、コーディネーターへの委譲を担う。
type AuthHandler struct {
	registry          CoordinatorRegistry
	redirectValidator RedirectValidator
	config            AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(registry CoordinatorRegistry, redirectValidator RedirectValidator, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		registry:          registry,
		redirectValidator: redirectValidator,
		config:            config,
	}
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// identityResponse はIdentity情報のAPIレスポンス。
type identityResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// meResponse は現在セッションのAPIレスポンス。
type meResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ensureClientContext はクライアントコンテキストCookieを読み取り、
// 対応するコーディネーターを返す。Cookieが無ければ新しいコンテキストIDを
// 発行してCookieを設定する。
func (h *AuthHandler) ensureClientContext(w http.ResponseWriter, r *http.Request) (SessionCoordinator, error) {
	clientID := ""
	if cookie, err := r.Cookie(middleware.ClientContextCookieName); err == nil && cookie.Value != "" {
		clientID = cookie.Value
	}

	if clientID == "" {
		clientID = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.ClientContextCookieName,
			Value:    clientID,
			Path:     "/",
			Domain:   h.config.CookieDomain,
			MaxAge:   h.config.CookieMaxAge,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	return h.registry.GetOrCreate(r.Context(), clientID)
}

// SignUp はメールアドレスとパスワードでアカウントを作成する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "email, password, usernameは必須です。",
			Category: "validation",
			Action:   "全ての項目を入力してください。",
		})
		return
	}

	coordinator, err := h.ensureClientContext(w, r)
	if err != nil {
		slog.Error("failed to create session coordinator", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	ident, err := coordinator.SignUp(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, identityResponse{ID: ident.ID, Email: ident.Email})
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return
	}

	coordinator, err := h.ensureClientContext(w, r)
	if err != nil {
		slog.Error("failed to create session coordinator", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	ident, err := coordinator.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, identityResponse{ID: ident.ID, Email: ident.Email})
}

// SignOut は現在セッションを破棄する。
// POST /auth/signout
//
// セッションの有無にかかわらず204を返す。状態遷移はプロバイダーの
// セッション変更通知によって行われるため、ここでは破棄の委譲だけを行う。
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.ClientContextCookieName)
	if err != nil || cookie.Value == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	coordinator := h.registry.Lookup(cookie.Value)
	if coordinator == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := coordinator.SignOut(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のセッション情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.ClientContextCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	coordinator := h.registry.Lookup(cookie.Value)
	if coordinator == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	session := coordinator.Current()
	if session == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:        session.Identity.ID,
		Email:     session.Identity.Email,
		ExpiresAt: session.ExpiresAt,
	})
}

// OAuth は外部プロバイダーによるリダイレクト型認証を開始する。
// GET /auth/oauth/{provider}?redirect_to=xxx
//
// 認証完了はリダイレクトの先で起きるため、ここでは承認URLへの
// リダイレクトだけを行う。完了はセッション変更通知として観測される。
func (h *AuthHandler) OAuth(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	redirectTo := r.URL.Query().Get("redirect_to")
	if redirectTo != "" {
		if err := h.redirectValidator.ValidateURL(redirectTo); err != nil {
			slog.Warn("oauth redirect target rejected",
				slog.String("redirect_to", redirectTo),
				slog.String("error", err.Error()),
			)
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "リダイレクト先URLが許可されていません。",
				Category: "validation",
				Action:   "リダイレクト先を確認してください。",
			})
			return
		}
	}

	coordinator, err := h.ensureClientContext(w, r)
	if err != nil {
		slog.Error("failed to create session coordinator", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	authorizeURL, err := coordinator.SignInWithProvider(r.Context(), providerName, redirectTo)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	http.Redirect(w, r, authorizeURL, http.StatusTemporaryRedirect)
}
