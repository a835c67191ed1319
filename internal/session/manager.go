package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CoordinatorFactory は新しいクライアントコンテキスト用のCoordinatorを生成する。
type CoordinatorFactory func(ctx context.Context) (*Coordinator, error)

// ManagerConfig はManagerの設定。
type ManagerConfig struct {
	// IdleTimeout は最終アクセスからCoordinatorを破棄するまでの時間。
	IdleTimeout time.Duration
	// CleanupInterval はアイドルエントリの掃除間隔。
	CleanupInterval time.Duration
}

// DefaultManagerConfig はデフォルトのManager設定を返す。
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTimeout:     24 * time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}

// coordinatorEntry はクライアントコンテキストごとのCoordinatorとアクセス時刻を保持する。
type coordinatorEntry struct {
	coordinator *Coordinator
	lastAccess  time.Time
}

// Manager はクライアントコンテキストIDごとのCoordinatorを管理する。
// 1コンテキストにつきCoordinatorは1つで、そのコンテキストの現在セッションを
// 排他的に所有する。アイドルになったCoordinatorはバックグラウンドでCloseされる。
type Manager struct {
	factory CoordinatorFactory
	config  ManagerConfig

	mu      sync.Mutex
	entries map[string]*coordinatorEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager は新しいManagerを生成する。
// バックグラウンドでアイドルエントリのクリーンアップを開始する。
func NewManager(factory CoordinatorFactory, config ManagerConfig) *Manager {
	m := &Manager{
		factory: factory,
		config:  config,
		entries: make(map[string]*coordinatorEntry),
		stopCh:  make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// Stop はクリーンアップを停止し、全Coordinatorを破棄する。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.entries {
		entry.coordinator.Close()
		delete(m.entries, id)
	}
}

// GetOrCreate は指定クライアントコンテキストのCoordinatorを返す。
// 存在しない場合はファクトリで新規に生成する。
func (m *Manager) GetOrCreate(ctx context.Context, clientID string) (*Coordinator, error) {
	m.mu.Lock()
	if entry, ok := m.entries[clientID]; ok {
		entry.lastAccess = time.Now()
		m.mu.Unlock()
		return entry.coordinator, nil
	}
	m.mu.Unlock()

	// ファクトリはプロバイダーへのセッション復元を含むため、ロック外で実行する
	coordinator, err := m.factory(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// ロック外での生成が競合した場合は先勝ちとし、後発を破棄する
	if entry, ok := m.entries[clientID]; ok {
		coordinator.Close()
		entry.lastAccess = time.Now()
		return entry.coordinator, nil
	}

	m.entries[clientID] = &coordinatorEntry{
		coordinator: coordinator,
		lastAccess:  time.Now(),
	}
	return coordinator, nil
}

// Lookup は指定クライアントコンテキストのCoordinatorを返す。
// 存在しない場合はnilを返す。
func (m *Manager) Lookup(clientID string) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[clientID]
	if !ok {
		return nil
	}
	entry.lastAccess = time.Now()
	return entry.coordinator
}

// Remove は指定クライアントコンテキストのCoordinatorを破棄する。
func (m *Manager) Remove(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[clientID]; ok {
		entry.coordinator.Close()
		delete(m.entries, clientID)
	}
}

// Len は管理中のCoordinator数を返す。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// cleanupLoop はアイドルになったCoordinatorを定期的に破棄する。
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup は最終アクセスがIdleTimeoutより古いエントリを破棄する。
func (m *Manager) cleanup() {
	cutoff := time.Now().Add(-m.config.IdleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, entry := range m.entries {
		if entry.lastAccess.Before(cutoff) {
			entry.coordinator.Close()
			delete(m.entries, id)
			removed++
		}
	}

	if removed > 0 {
		slog.Info("idle session coordinators removed",
			slog.Int("removed", removed),
			slog.Int("remaining", len(m.entries)),
		)
	}
}
