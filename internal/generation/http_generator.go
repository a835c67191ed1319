package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/hitoshi/askviz/internal/model"
)

// HTTPGeneratorConfig はHTTP経由の生成サービスクライアントの設定。
type HTTPGeneratorConfig struct {
	// Endpoint は生成サービスのURL。
	Endpoint string
	// APIKey は空でない場合Authorizationヘッダーに付与される。
	APIKey string
	// RequestsPerSecond は生成サービスへの呼び出しレート上限。
	// 0以下の場合はレート制限を行わない。
	RequestsPerSecond float64
}

// HTTPGenerator はHTTP経由で外部の生成サービスを呼び出すGenerator実装。
// 呼び出しはレートリミッターでペーシングされる。
// リトライは行わず、1回のGenerateにつき呼び出しは1回だけ。
type HTTPGenerator struct {
	config     HTTPGeneratorConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewHTTPGenerator はHTTPGeneratorを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すことを想定している。
func NewHTTPGenerator(config HTTPGeneratorConfig, httpClient *http.Client, logger *slog.Logger) *HTTPGenerator {
	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &HTTPGenerator{
		config:     config,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}
}

// generateRequest は生成サービスへのリクエストボディ。
type generateRequest struct {
	Question string `json:"question"`
}

// generateResponse は生成サービスのレスポンスボディ。
type generateResponse struct {
	Answer            string                  `json:"answer"`
	VisualizationData model.VisualizationSpec `json:"visualization_data"`
}

// Generate は質問テキストを生成サービスに送信し、回答と可視化記述を返す。
func (g *HTTPGenerator) Generate(ctx context.Context, question string) (*model.GeneratedAnswer, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait cancelled: %w", err)
		}
	}

	reqBody, err := json.Marshal(generateRequest{Question: question})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("generation service request failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		g.logger.Error("generation service returned error status",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("generation service returned status %d", resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}

	if genResp.Answer == "" {
		return nil, fmt.Errorf("empty answer in generation response")
	}

	return &model.GeneratedAnswer{
		Answer: genResp.Answer,
		Spec:   genResp.VisualizationData,
	}, nil
}

// compile-time interface check
var _ Generator = (*HTTPGenerator)(nil)
