package handler

import (
	"context"

	"github.com/hitoshi/askviz/internal/middleware"
	"github.com/hitoshi/askviz/internal/model"
	"github.com/hitoshi/askviz/internal/session"
)

// ManagerAdapter は session.Manager を CoordinatorRegistry と
// middleware.SessionResolver に適合させるアダプタ。
type ManagerAdapter struct {
	manager *session.Manager
}

// NewManagerAdapter はManagerAdapterを生成する。
func NewManagerAdapter(manager *session.Manager) *ManagerAdapter {
	return &ManagerAdapter{manager: manager}
}

// GetOrCreate はクライアントコンテキストのコーディネーターを取得または生成する。
func (a *ManagerAdapter) GetOrCreate(ctx context.Context, clientID string) (SessionCoordinator, error) {
	return a.manager.GetOrCreate(ctx, clientID)
}

// Lookup は既存のコーディネーターを返す。存在しない場合はnilを返す。
func (a *ManagerAdapter) Lookup(clientID string) SessionCoordinator {
	coordinator := a.manager.Lookup(clientID)
	if coordinator == nil {
		// typed nilをインターフェースに入れない
		return nil
	}
	return coordinator
}

// ResolveSession はクライアントコンテキストIDから現在セッションを解決する。
// middleware.SessionResolverの実装。
func (a *ManagerAdapter) ResolveSession(clientID string) *model.Session {
	coordinator := a.manager.Lookup(clientID)
	if coordinator == nil {
		return nil
	}
	return coordinator.Current()
}

var _ CoordinatorRegistry = (*ManagerAdapter)(nil)
var _ middleware.SessionResolver = (*ManagerAdapter)(nil)
