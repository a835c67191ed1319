package ask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/askviz/internal/model"
)

// mockGenerator はGeneratorのモック実装
type mockGenerator struct {
	GenerateFunc func(ctx context.Context, question string) (*model.GeneratedAnswer, error)
}

func (m *mockGenerator) Generate(ctx context.Context, question string) (*model.GeneratedAnswer, error) {
	return m.GenerateFunc(ctx, question)
}

// mockVisualizationRepo はVisualizationRepositoryのモック実装
type mockVisualizationRepo struct {
	CreateFunc       func(ctx context.Context, v *model.Visualization) error
	FindByIDFunc     func(ctx context.Context, id string) (*model.Visualization, error)
	ListByUserIDFunc func(ctx context.Context, userID string) ([]*model.Visualization, error)
}

func (m *mockVisualizationRepo) Create(ctx context.Context, v *model.Visualization) error {
	return m.CreateFunc(ctx, v)
}

func (m *mockVisualizationRepo) FindByID(ctx context.Context, id string) (*model.Visualization, error) {
	return m.FindByIDFunc(ctx, id)
}

func (m *mockVisualizationRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Visualization, error) {
	return m.ListByUserIDFunc(ctx, userID)
}

// passthroughSanitizer は入力をそのまま返すサニタイザ
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(raw string) string { return raw }

func testSession(userID string) *model.Session {
	return &model.Session{
		Identity: model.Identity{
			ID:    userID,
			Email: "test@example.com",
		},
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func staticAnswer(answer string) *mockGenerator {
	return &mockGenerator{
		GenerateFunc: func(ctx context.Context, question string) (*model.GeneratedAnswer, error) {
			return &model.GeneratedAnswer{
				Answer: answer,
				Spec: model.VisualizationSpec{
					Type:     "3d-model",
					Geometry: "cube",
					Scale:    [3]float64{1, 1, 1},
					Color:    "#4F46E5",
				},
			}, nil
		},
	}
}

func TestService_Ask_Success(t *testing.T) {
	var created *model.Visualization
	repo := &mockVisualizationRepo{
		CreateFunc: func(ctx context.Context, v *model.Visualization) error {
			created = v
			return nil
		},
		ListByUserIDFunc: func(ctx context.Context, userID string) ([]*model.Visualization, error) {
			return []*model.Visualization{created}, nil
		},
	}
	service := NewService(staticAnswer("テスト回答"), repo, passthroughSanitizer{}, nil)

	result, err := service.Ask(context.Background(), testSession("user-1"), "重力とは何ですか")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !result.Saved {
		t.Error("Saved = false, want true")
	}
	if result.Answer != "テスト回答" {
		t.Errorf("Answer = %q, want %q", result.Answer, "テスト回答")
	}
	if result.Record == nil {
		t.Fatal("Record is nil")
	}
	if result.Record.ID == "" {
		t.Error("Record.ID is empty")
	}
	if result.Record.UserID != "user-1" {
		t.Errorf("Record.UserID = %q, want %q", result.Record.UserID, "user-1")
	}
	if result.HistoryErr != nil {
		t.Errorf("HistoryErr = %v, want nil", result.HistoryErr)
	}
	if len(result.History) != 1 {
		t.Errorf("len(History) = %d, want 1", len(result.History))
	}
}

func TestService_Ask_NotAuthenticated(t *testing.T) {
	generatorCalled := false
	generator := &mockGenerator{
		GenerateFunc: func(ctx context.Context, question string) (*model.GeneratedAnswer, error) {
			generatorCalled = true
			return nil, errors.New("should not be called")
		},
	}
	repo := &mockVisualizationRepo{
		CreateFunc: func(ctx context.Context, v *model.Visualization) error {
			t.Error("Create should not be called")
			return nil
		},
	}
	service := NewService(generator, repo, passthroughSanitizer{}, nil)

	result, err := service.Ask(context.Background(), nil, "質問")
	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		t.Fatalf("error is not APIError: %v", err)
	}
	if apiErr.Code != model.ErrCodeNotAuthenticated {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeNotAuthenticated)
	}
	if generatorCalled {
		t.Error("generator was called for unauthenticated request")
	}
}

func TestService_Ask_BlankQuestion(t *testing.T) {
	tests := []struct {
		name     string
		question string
	}{
		{name: "空文字列", question: ""},
		{name: "スペースのみ", question: "   "},
		{name: "改行とタブのみ", question: "\n\t \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generatorCalled := false
			generator := &mockGenerator{
				GenerateFunc: func(ctx context.Context, question string) (*model.GeneratedAnswer, error) {
					generatorCalled = true
					return nil, errors.New("should not be called")
				},
			}
			service := NewService(generator, &mockVisualizationRepo{}, passthroughSanitizer{}, nil)

			_, err := service.Ask(context.Background(), testSession("user-1"), tt.question)
			apiErr, ok := model.AsAPIError(err)
			if !ok {
				t.Fatalf("error is not APIError: %v", err)
			}
			if apiErr.Code != model.ErrCodeBlankQuestion {
				t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeBlankQuestion)
			}
			if generatorCalled {
				t.Error("generator was called for blank question")
			}
		})
	}
}

func TestService_Ask_QuestionTrimmed(t *testing.T) {
	var created *model.Visualization
	repo := &mockVisualizationRepo{
		CreateFunc: func(ctx context.Context, v *model.Visualization) error {
			created = v
			return nil
		},
		ListByUserIDFunc: func(ctx context.Context, userID string) ([]*model.Visualization, error) {
			return nil, nil
		},
	}
	service := NewService(staticAnswer("回答"), repo, passthroughSanitizer{}, nil)

	_, err := service.Ask(context.Background(), testSession("user-1"), "  質問です  \n")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if created.Question != "質問です" {
		t.Errorf("Question = %q, want %q", created.Question, "質問です")
	}
}

func TestService_Ask_GenerationFailed(t *testing.T) {
	generator := &mockGenerator{
		GenerateFunc: func(ctx context.Context, question string) (*model.GeneratedAnswer, error) {
			return nil, errors.New("upstream timeout")
		},
	}
	repo := &mockVisualizationRepo{
		CreateFunc: func(ctx context.Context, v *model.Visualization) error {
			t.Error("Create should not be called after generation failure")
			return nil
		},
	}
	service := NewService(generator, repo, passthroughSanitizer{}, nil)

	result, err := service.Ask(context.Background(), testSession("user-1"), "質問")
	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		t.Fatalf("error is not APIError: %v", err)
	}
	if apiErr.Code != model.ErrCodeGenerationFailed {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeGenerationFailed)
	}
	if !strings.Contains(errors.Unwrap(apiErr).Error(), "upstream timeout") {
		t.Errorf("cause not preserved: %v", errors.Unwrap(apiErr))
	}
}

func TestService_Ask_PersistenceFailed(t *testing.T) {
	listCalled := false
	repo := &mockVisualizationRepo{
		CreateFunc: func(ctx context.Context, v *model.Visualization) error {
			return errors.New("connection refused")
		},
		ListByUserIDFunc: func(ctx context.Context, userID string) ([]*model.Visualization, error) {
			listCalled = true
			return nil, nil
		},
	}
	service := NewService(staticAnswer("回答"), repo, passthroughSanitizer{}, nil)

	result, err := service.Ask(context.Background(), testSession("user-1"), "質問")
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		t.Fatalf("error is not APIError: %v", err)
	}
	if apiErr.Code != model.ErrCodePersistenceFailed {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodePersistenceFailed)
	}
	// 保存失敗でも生成済みの回答は返す
	if result == nil {
		t.Fatal("result is nil, want answer without record")
	}
	if result.Saved {
		t.Error("Saved = true, want false")
	}
	if result.Answer != "回答" {
		t.Errorf("Answer = %q, want %q", result.Answer, "回答")
	}
	if result.Record != nil {
		t.Errorf("Record = %v, want nil", result.Record)
	}
	if listCalled {
		t.Error("history was refreshed after persistence failure")
	}
}

func TestService_Ask_HistoryRefreshFailedIsNonFatal(t *testing.T) {
	repo := &mockVisualizationRepo{
		CreateFunc: func(ctx context.Context, v *model.Visualization) error {
			return nil
		},
		ListByUserIDFunc: func(ctx context.Context, userID string) ([]*model.Visualization, error) {
			return nil, errors.New("query timeout")
		},
	}
	service := NewService(staticAnswer("回答"), repo, passthroughSanitizer{}, nil)

	result, err := service.Ask(context.Background(), testSession("user-1"), "質問")
	if err != nil {
		t.Fatalf("Ask() error = %v, want nil (history refresh is non-fatal)", err)
	}
	if !result.Saved {
		t.Error("Saved = false, want true")
	}
	if result.Record == nil {
		t.Error("Record is nil, want saved record")
	}
	if result.HistoryErr == nil {
		t.Fatal("HistoryErr is nil, want HISTORY_REFRESH_FAILED")
	}
	if result.HistoryErr.Code != model.ErrCodeHistoryRefreshFailed {
		t.Errorf("HistoryErr.Code = %q, want %q", result.HistoryErr.Code, model.ErrCodeHistoryRefreshFailed)
	}
}

func TestService_Ask_SanitizesAnswer(t *testing.T) {
	generator := &mockGenerator{
		GenerateFunc: func(ctx context.Context, question string) (*model.GeneratedAnswer, error) {
			return &model.GeneratedAnswer{Answer: "<script>alert(1)</script>安全な回答"}, nil
		},
	}
	var created *model.Visualization
	repo := &mockVisualizationRepo{
		CreateFunc: func(ctx context.Context, v *model.Visualization) error {
			created = v
			return nil
		},
		ListByUserIDFunc: func(ctx context.Context, userID string) ([]*model.Visualization, error) {
			return nil, nil
		},
	}
	sanitizer := stripScriptSanitizer{}
	service := NewService(generator, repo, sanitizer, nil)

	result, err := service.Ask(context.Background(), testSession("user-1"), "質問")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if strings.Contains(result.Answer, "<script>") {
		t.Errorf("answer not sanitized: %q", result.Answer)
	}
	if strings.Contains(created.Answer, "<script>") {
		t.Errorf("persisted answer not sanitized: %q", created.Answer)
	}
}

type stripScriptSanitizer struct{}

func (stripScriptSanitizer) Sanitize(raw string) string {
	out := strings.ReplaceAll(raw, "<script>alert(1)</script>", "")
	return out
}

func TestService_Ask_SerializesPerUser(t *testing.T) {
	// 同一ユーザーの並行Ask呼び出しが直列化されることを検証する。
	// inFlightが同時に2以上になったら直列化が破れている。
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	generator := &mockGenerator{
		GenerateFunc: func(ctx context.Context, question string) (*model.GeneratedAnswer, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return &model.GeneratedAnswer{Answer: "回答"}, nil
		},
	}
	repo := &mockVisualizationRepo{
		CreateFunc: func(ctx context.Context, v *model.Visualization) error { return nil },
		ListByUserIDFunc: func(ctx context.Context, userID string) ([]*model.Visualization, error) {
			return nil, nil
		},
	}
	service := NewService(generator, repo, passthroughSanitizer{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := service.Ask(context.Background(), testSession("user-1"), fmt.Sprintf("質問%d", n))
			if err != nil {
				t.Errorf("Ask() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if maxInFlight > 1 {
		t.Errorf("maxInFlight = %d, want 1 (same-user calls must be serialized)", maxInFlight)
	}

	// ロックエントリは全員解放後に破棄される
	service.mu.Lock()
	remaining := len(service.userLocks)
	service.mu.Unlock()
	if remaining != 0 {
		t.Errorf("len(userLocks) = %d, want 0", remaining)
	}
}

func TestService_History(t *testing.T) {
	repo := &mockVisualizationRepo{
		ListByUserIDFunc: func(ctx context.Context, userID string) ([]*model.Visualization, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want %q", userID, "user-1")
			}
			return []*model.Visualization{{ID: "v1"}, {ID: "v2"}}, nil
		},
	}
	service := NewService(staticAnswer("回答"), repo, passthroughSanitizer{}, nil)

	history, err := service.History(context.Background(), testSession("user-1"))
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Errorf("len(history) = %d, want 2", len(history))
	}

	_, err = service.History(context.Background(), nil)
	apiErr, ok := model.AsAPIError(err)
	if !ok || apiErr.Code != model.ErrCodeNotAuthenticated {
		t.Errorf("History(nil session) error = %v, want NOT_AUTHENTICATED", err)
	}
}

func TestService_Get_OwnershipEnforced(t *testing.T) {
	repo := &mockVisualizationRepo{
		FindByIDFunc: func(ctx context.Context, id string) (*model.Visualization, error) {
			return &model.Visualization{ID: id, UserID: "owner"}, nil
		},
	}
	service := NewService(staticAnswer("回答"), repo, passthroughSanitizer{}, nil)

	// 所有者は取得できる
	v, err := service.Get(context.Background(), testSession("owner"), "v1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v == nil {
		t.Fatal("v is nil, want record")
	}

	// 他人のレコードは存在しない扱い
	v, err = service.Get(context.Background(), testSession("intruder"), "v1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != nil {
		t.Errorf("v = %v, want nil for non-owner", v)
	}
}
