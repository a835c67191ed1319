// Package ask は「質問する」操作を最後まで実行するパイプラインを提供する。
// 生成 → 保存 → 履歴再取得を1回ずつ実行し、どの段階で失敗したかを
// 中途半端なレコードを残さずに報告する。
package ask

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/askviz/internal/generation"
	"github.com/hitoshi/askviz/internal/model"
	"github.com/hitoshi/askviz/internal/repository"
	"github.com/hitoshi/askviz/internal/security"
)

// Metrics はパイプラインが記録するメトリクスのインターフェース。
// metrics.Collectorの部分集合として定義する。
type Metrics interface {
	RecordAskSuccess()
	RecordGenerationFailure()
	RecordPersistenceFailure()
	RecordHistoryRefreshFailure()
	RecordGenerationLatency(duration time.Duration)
}

// Result はask操作の結果を表す。
// Savedがfalseの場合、回答は生成されたが保存されなかったことを意味し、
// 呼び出し側は履歴に残らない旨とともに回答を表示できる。
// HistoryErrは唯一の非致命エラーで、成功した結果に付帯する。
type Result struct {
	Answer     string
	Spec       model.VisualizationSpec
	Record     *model.Visualization
	History    []*model.Visualization
	Saved      bool
	HistoryErr *model.APIError
}

// Service はask操作のパイプライン。
// 永続状態を持たず、呼び出し側のセッションをパラメータとして受け取る。
// 同一ユーザーの操作は直列化され、履歴再取得が交錯することはない。
// 異なるユーザーの操作は並行して実行される。
type Service struct {
	generator      generation.Generator
	visualizations repository.VisualizationRepository
	sanitizer      security.AnswerSanitizerService
	metrics        Metrics

	mu        sync.Mutex
	userLocks map[string]*userLock
}

// userLock はユーザーごとの直列化用ロックと参照カウントを保持する。
type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	generator generation.Generator,
	visualizations repository.VisualizationRepository,
	sanitizer security.AnswerSanitizerService,
	metrics Metrics,
) *Service {
	return &Service{
		generator:      generator,
		visualizations: visualizations,
		sanitizer:      sanitizer,
		metrics:        metrics,
		userLocks:      make(map[string]*userLock),
	}
}

// Ask は1回の「質問する」操作を実行する。
//
// 手順:
//  1. 生成: 生成サービスを呼び出す。失敗時はGENERATION_FAILEDで全体が失敗し、
//     レコードは一切保存されない。
//  2. 保存: セッションのIdentityを所有者とするレコードを保存する。失敗時は
//     PERSISTENCE_FAILEDを返すが、生成済みの回答はResultに残す。
//  3. 履歴再取得: 所有者の全履歴を作成日時の降順で取得する。失敗しても
//     保存済みレコードは無効にならず、Result.HistoryErrとして報告される。
//
// 各段階の試行は1回ずつで、リトライは行わない。
func (s *Service) Ask(ctx context.Context, session *model.Session, question string) (*Result, error) {
	// 未認証の呼び出しはネットワーク到達前に拒否する
	if session == nil {
		return nil, model.NewNotAuthenticatedError()
	}

	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return nil, model.NewBlankQuestionError()
	}

	userID := session.Identity.ID
	unlock := s.lockUser(userID)
	defer unlock()

	// 1. 生成
	start := time.Now()
	generated, err := s.generator.Generate(ctx, trimmed)
	s.recordGenerationLatency(time.Since(start))
	if err != nil {
		s.recordGenerationFailure()
		slog.Error("answer generation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationFailedError().WithCause(err)
	}

	answer := s.sanitizer.Sanitize(generated.Answer)

	// 2. 保存
	record := &model.Visualization{
		ID:        uuid.New().String(),
		UserID:    userID,
		Question:  trimmed,
		Answer:    answer,
		Spec:      generated.Spec,
		CreatedAt: time.Now(),
	}
	if err := s.visualizations.Create(ctx, record); err != nil {
		s.recordPersistenceFailure()
		slog.Error("visualization persistence failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		// 生成済みの回答は破棄せず、保存されなかったことを区別して返す
		result := &Result{
			Answer: answer,
			Spec:   generated.Spec,
			Saved:  false,
		}
		return result, model.NewPersistenceFailedError().WithCause(err)
	}

	result := &Result{
		Answer: answer,
		Spec:   generated.Spec,
		Record: record,
		Saved:  true,
	}

	// 3. 履歴再取得（非致命）
	history, err := s.visualizations.ListByUserID(ctx, userID)
	if err != nil {
		s.recordHistoryRefreshFailure()
		slog.Warn("history refresh failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		result.HistoryErr = model.NewHistoryRefreshFailedError()
		s.recordAskSuccess()
		return result, nil
	}

	result.History = history
	s.recordAskSuccess()
	return result, nil
}

// History は所有者の全履歴を作成日時の降順で返す。
func (s *Service) History(ctx context.Context, session *model.Session) ([]*model.Visualization, error) {
	if session == nil {
		return nil, model.NewNotAuthenticatedError()
	}

	history, err := s.visualizations.ListByUserID(ctx, session.Identity.ID)
	if err != nil {
		return nil, model.NewHistoryRefreshFailedError().WithCause(err)
	}
	return history, nil
}

// Get は指定IDのレコードを返す。所有者以外からの参照は存在しない扱いにする。
func (s *Service) Get(ctx context.Context, session *model.Session, id string) (*model.Visualization, error) {
	if session == nil {
		return nil, model.NewNotAuthenticatedError()
	}

	v, err := s.visualizations.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewUnexpectedError(err)
	}
	if v == nil || v.UserID != session.Identity.ID {
		return nil, nil
	}
	return v, nil
}

// lockUser はユーザー単位のロックを取得し、解放関数を返す。
// 最後の保持者が解放した時点でエントリは破棄される。
func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &userLock{}
		s.userLocks[userID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.userLocks, userID)
		}
		s.mu.Unlock()
	}
}

func (s *Service) recordAskSuccess() {
	if s.metrics != nil {
		s.metrics.RecordAskSuccess()
	}
}

func (s *Service) recordGenerationFailure() {
	if s.metrics != nil {
		s.metrics.RecordGenerationFailure()
	}
}

func (s *Service) recordPersistenceFailure() {
	if s.metrics != nil {
		s.metrics.RecordPersistenceFailure()
	}
}

func (s *Service) recordHistoryRefreshFailure() {
	if s.metrics != nil {
		s.metrics.RecordHistoryRefreshFailure()
	}
}

func (s *Service) recordGenerationLatency(d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordGenerationLatency(d)
	}
}
