package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/askviz/internal/ask"
	"github.com/hitoshi/askviz/internal/middleware"
	"github.com/hitoshi/askviz/internal/model"
)

// mockSessionResolver はmiddleware.SessionResolverのモック実装
type mockSessionResolver struct {
	ResolveSessionFunc func(clientID string) *model.Session
}

func (m *mockSessionResolver) ResolveSession(clientID string) *model.Session {
	return m.ResolveSessionFunc(clientID)
}

// addCSRF はダブルサブミットCookie方式のCSRFトークンをリクエストに付与する。
func addCSRF(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: "askviz_csrf", Value: "test-csrf-token"})
	req.Header.Set("X-CSRF-Token", "test-csrf-token")
}

func newTestRouter(t *testing.T, resolver middleware.SessionResolver, registry CoordinatorRegistry) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(1000),
		GeneralBurst:    1000,
		AskRate:         rate.Limit(1000),
		AskBurst:        1000,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(rl.Stop)

	askService := &mockAskService{
		AskFunc: func(ctx context.Context, session *model.Session, question string) (*ask.Result, error) {
			record := sampleRecord()
			return &ask.Result{
				Answer:  record.Answer,
				Spec:    record.Spec,
				Record:  record,
				History: []*model.Visualization{record},
				Saved:   true,
			}, nil
		},
	}
	vizService := &mockVisualizationService{
		HistoryFunc: func(ctx context.Context, session *model.Session) ([]*model.Visualization, error) {
			return []*model.Visualization{sampleRecord()}, nil
		},
		GetFunc: func(ctx context.Context, session *model.Session, id string) (*model.Visualization, error) {
			return sampleRecord(), nil
		},
	}
	profileStore := &mockProfileStore{
		FindByIDFunc: func(ctx context.Context, id string) (*model.Profile, error) {
			return sampleProfile(), nil
		},
	}

	return NewRouter(&RouterDeps{
		SessionResolver:      resolver,
		CORSAllowedOrigin:    "http://localhost:3000",
		RateLimiter:          rl,
		Registry:             registry,
		AuthConfig:           testAuthConfig(),
		AskService:           askService,
		VisualizationService: vizService,
		ProfileStore:         profileStore,
	})
}

func TestRouter_HealthIsPublic(t *testing.T) {
	resolver := &mockSessionResolver{
		ResolveSessionFunc: func(clientID string) *model.Session { return nil },
	}
	router := newTestRouter(t, resolver, &mockRegistry{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRouter_APIRequiresSession(t *testing.T) {
	resolver := &mockSessionResolver{
		ResolveSessionFunc: func(clientID string) *model.Session { return nil },
	}
	router := newTestRouter(t, resolver, &mockRegistry{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/ask"},
		{http.MethodGet, "/api/visualizations"},
		{http.MethodGet, "/api/visualizations/viz-1"},
		{http.MethodGet, "/api/profile"},
		{http.MethodPatch, "/api/profile"},
	}

	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		addCSRF(req)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want %d", p.method, p.path, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestRouter_AuthenticatedAskFlow(t *testing.T) {
	resolver := &mockSessionResolver{
		ResolveSessionFunc: func(clientID string) *model.Session {
			if clientID != "ctx-1" {
				return nil
			}
			return sessionForTest()
		},
	}
	router := newTestRouter(t, resolver, &mockRegistry{})

	body, _ := json.Marshal(askRequest{Question: "重力とは"})
	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewReader(body))
	addCSRF(req)
	req.AddCookie(&http.Cookie{Name: middleware.ClientContextCookieName, Value: "ctx-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
}

func TestRouter_SignInRouted(t *testing.T) {
	coordinator := &mockCoordinator{
		SignInFunc: func(ctx context.Context, email, password string) (*model.Identity, error) {
			return &model.Identity{ID: "user-1", Email: email}, nil
		},
	}
	registry := &mockRegistry{
		GetOrCreateFunc: func(ctx context.Context, clientID string) (SessionCoordinator, error) {
			return coordinator, nil
		},
	}
	resolver := &mockSessionResolver{
		ResolveSessionFunc: func(clientID string) *model.Session { return nil },
	}
	router := newTestRouter(t, resolver, registry)

	body, _ := json.Marshal(signInRequest{Email: "a@example.com", Password: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", bytes.NewReader(body))
	addCSRF(req)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRouter_CSRFTokenEndpointIsPublic(t *testing.T) {
	resolver := &mockSessionResolver{
		ResolveSessionFunc: func(clientID string) *model.Session { return nil },
	}
	router := newTestRouter(t, resolver, &mockRegistry{})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if body.Token == "" {
		t.Error("token should not be empty")
	}
}

func TestRouter_PostWithoutCSRFTokenIsRejected(t *testing.T) {
	resolver := &mockSessionResolver{
		ResolveSessionFunc: func(clientID string) *model.Session { return nil },
	}
	router := newTestRouter(t, resolver, &mockRegistry{})

	req := httptest.NewRequest(http.MethodPost, "/auth/signin", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRouter_CORSHeadersApplied(t *testing.T) {
	resolver := &mockSessionResolver{
		ResolveSessionFunc: func(clientID string) *model.Session { return nil },
	}
	router := newTestRouter(t, resolver, &mockRegistry{})

	req := httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
}
