package generation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestHTTPGenerator はhttptestサーバーを向いたHTTPGeneratorを生成する。
func newTestHTTPGenerator(t *testing.T, handler http.HandlerFunc, rps float64) *HTTPGenerator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewHTTPGenerator(
		HTTPGeneratorConfig{
			Endpoint:          server.URL,
			APIKey:            "test-generation-key",
			RequestsPerSecond: rps,
		},
		server.Client(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestHTTPGenerator_Generate(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody generateRequest

	g := newTestHTTPGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"answer": "空が青いのはレイリー散乱によるものです。",
			"visualization_data": {
				"type": "3d-model",
				"geometry": "sphere",
				"position": [0, 1, 0],
				"rotation": [0, 45, 0],
				"scale": [1, 1, 1],
				"color": "#2563EB"
			}
		}`))
	}, 0)

	result, err := g.Generate(context.Background(), "なぜ空は青いのか")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if gotAuth != "Bearer test-generation-key" {
		t.Errorf("Authorization = %q, want Bearer test-generation-key", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotBody.Question != "なぜ空は青いのか" {
		t.Errorf("request question = %q", gotBody.Question)
	}

	if result.Answer != "空が青いのはレイリー散乱によるものです。" {
		t.Errorf("Answer = %q", result.Answer)
	}
	if result.Spec.Geometry != "sphere" || result.Spec.Color != "#2563EB" {
		t.Errorf("Spec = %+v", result.Spec)
	}
	if result.Spec.Position != [3]float64{0, 1, 0} {
		t.Errorf("Position = %v, want [0 1 0]", result.Spec.Position)
	}
}

func TestHTTPGenerator_Generate_NoAPIKeyOmitsAuthorization(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"answer":"ok","visualization_data":{"type":"3d-model"}}`))
	}))
	t.Cleanup(server.Close)

	g := NewHTTPGenerator(
		HTTPGeneratorConfig{Endpoint: server.URL},
		server.Client(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	if _, err := g.Generate(context.Background(), "question"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty when no API key configured", gotAuth)
	}
}

func TestHTTPGenerator_Generate_ErrorStatus(t *testing.T) {
	g := newTestHTTPGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 0)

	if _, err := g.Generate(context.Background(), "question"); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestHTTPGenerator_Generate_EmptyAnswer(t *testing.T) {
	g := newTestHTTPGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"answer":"","visualization_data":{}}`))
	}, 0)

	if _, err := g.Generate(context.Background(), "question"); err == nil {
		t.Fatal("expected error for empty answer")
	}
}

func TestHTTPGenerator_Generate_InvalidJSON(t *testing.T) {
	g := newTestHTTPGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}, 0)

	if _, err := g.Generate(context.Background(), "question"); err == nil {
		t.Fatal("expected error for invalid JSON response")
	}
}

func TestHTTPGenerator_Generate_RateLimited(t *testing.T) {
	calls := 0
	g := newTestHTTPGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"answer":"ok","visualization_data":{"type":"3d-model"}}`))
	}, 10)

	// バースト1のため、2回目の呼び出しはレートリミッターで待たされる
	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := g.Generate(context.Background(), "question"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	elapsed := time.Since(start)

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 50ms of rate limiter pacing", elapsed)
	}
}

func TestHTTPGenerator_Generate_ContextCancelledDuringWait(t *testing.T) {
	g := newTestHTTPGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"answer":"ok","visualization_data":{"type":"3d-model"}}`))
	}, 0.001)

	// 1回目でトークンを使い切り、2回目の待機中にキャンセルする
	if _, err := g.Generate(context.Background(), "question"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := g.Generate(ctx, "question"); err == nil {
		t.Fatal("expected error when context is cancelled during rate limiter wait")
	}
}
