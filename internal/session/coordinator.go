// Package session は現在セッションの管理とサインアップ時のプロフィール
// プロビジョニングを提供する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/askviz/internal/identity"
	"github.com/hitoshi/askviz/internal/model"
	"github.com/hitoshi/askviz/internal/repository"
)

// ErrClosed はClose済みのCoordinatorに対する操作を表す。
var ErrClosed = errors.New("session coordinator is closed")

// eventQueueSize はコーディネーターのイベントキューのバッファサイズ。
const eventQueueSize = 32

// Metrics はコーディネーターが記録するメトリクスのインターフェース。
// metrics.Collectorの部分集合として定義する。
type Metrics interface {
	RecordSignIn()
	RecordSignUp()
	RecordSignUpCompensation()
}

// Coordinator は「誰がサインインしているか」の単一の情報源。
// クライアントコンテキスト1つにつき1インスタンスを生成し、
// そのコンテキストの現在セッションを排他的に所有する。
//
// 状態遷移はプロバイダーのセッション変更通知のみを正とする。
// 通知は到着順に単一のイベントループで処理され、最新の通知が常に勝つ。
// サインイン呼び出しの戻り値が後続の通知より遅れて解決しても、
// 通知で確立済みの状態を上書きすることはない。
type Coordinator struct {
	provider identity.Provider
	profiles repository.ProfileRepository
	metrics  Metrics

	mu      sync.RWMutex
	current *model.Session
	closed  bool

	events      chan identity.SessionEvent
	unsubscribe identity.Unsubscribe
	done        chan struct{}
}

// NewCoordinator はCoordinatorを生成する。
// 起動時にプロバイダーからセッションの復元を試み、
// セッション変更通知の購読を1つだけ登録してイベントループを開始する。
// metricsはnilでもよい。
func NewCoordinator(ctx context.Context, provider identity.Provider, profiles repository.ProfileRepository, metrics Metrics) (*Coordinator, error) {
	c := &Coordinator{
		provider: provider,
		profiles: profiles,
		metrics:  metrics,
		events:   make(chan identity.SessionEvent, eventQueueSize),
		done:     make(chan struct{}),
	}

	// 起動時のセッション復元。失敗は未認証として扱う。
	restored, err := provider.GetSession(ctx)
	if err != nil {
		slog.Warn("failed to restore session on startup",
			slog.String("error", err.Error()),
		)
	} else if restored != nil && !restored.Expired(time.Now()) {
		c.current = restored
	}

	c.unsubscribe = provider.OnSessionChange(func(ev identity.SessionEvent) {
		select {
		case c.events <- ev:
		case <-c.done:
		}
	})

	go c.eventLoop()

	return c, nil
}

// eventLoop はセッション変更通知を到着順に処理する。
// 現在セッションを書き換えるのはこのループだけ。
func (c *Coordinator) eventLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.mu.Lock()
			c.current = ev.Session
			c.mu.Unlock()

			attrs := []any{slog.String("event", string(ev.Type))}
			if ev.Session != nil {
				attrs = append(attrs, slog.String("user_id", ev.Session.Identity.ID))
			}
			slog.Info("session changed", attrs...)
		}
	}
}

// Close はセッション変更通知の購読を解除し、イベントループを停止する。
// Close後の操作は全てエラーになる。
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	close(c.done)

	// プロバイダーがコーディネーター専属の場合は一緒に破棄する
	if closer, ok := c.provider.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Current は現在のセッションを返す。未認証の場合はnilを返す。
func (c *Coordinator) Current() *model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return nil
	}
	copied := *c.current
	return &copied
}

// checkOpen はCoordinatorが操作可能な状態かを確認する。
func (c *Coordinator) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// SignIn はメールアドレスとパスワードでサインインする。
// 認証情報不一致はINVALID_CREDENTIALSに正規化される。
// 戻り値のIdentityは参考情報であり、状態遷移はセッション変更通知が正。
func (c *Coordinator) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, model.NewUnexpectedError(err)
	}

	ident, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, model.NewUnexpectedError(err)
	}

	if c.metrics != nil {
		c.metrics.RecordSignIn()
	}
	slog.Info("user signed in", slog.String("user_id", ident.ID))
	return ident, nil
}

// SignUp はIdentityの作成とプロフィールのプロビジョニングを2段階で行う。
//
// 段階(a): プロバイダーにIdentityを作成させる。重複登録はDUPLICATE_ACCOUNTに
// 正規化される。
// 段階(b): Identity IDをキーにプロフィールを1件だけ作成する。既存プロフィールが
// あればそれを採用する（リトライや重複配信に対する冪等ガード）。
//
// 段階(b)のINSERTが失敗した場合は、作成済みIdentityのセッションをサインアウト
// してからPROFILE_PROVISIONING_FAILEDを返す。半端にプロビジョニングされた
// Identityを「サインアップ成功」として見せないための補償処理。
func (c *Coordinator) SignUp(ctx context.Context, email, password, username string) (*model.Identity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, model.NewUnexpectedError(err)
	}

	var ident *model.Identity

	steps := []sagaStep{
		{
			Name: "create-identity",
			Run: func(ctx context.Context) error {
				created, err := c.provider.SignUp(ctx, email, password, identity.SignUpAttrs{Username: username})
				if err != nil {
					if errors.Is(err, identity.ErrDuplicateAccount) {
						return model.NewDuplicateAccountError()
					}
					return model.NewUnexpectedError(err)
				}
				ident = created
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if c.metrics != nil {
					c.metrics.RecordSignUpCompensation()
				}
				return c.provider.SignOut(ctx)
			},
		},
		{
			Name: "provision-profile",
			Run: func(ctx context.Context) error {
				if _, err := c.provisionProfile(ctx, ident.ID, username); err != nil {
					return model.NewProfileProvisioningFailedError().WithCause(err)
				}
				return nil
			},
		},
	}

	if err := runSaga(ctx, "sign-up", steps); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RecordSignUp()
	}
	slog.Info("user signed up",
		slog.String("user_id", ident.ID),
		slog.String("username", username),
	)
	return ident, nil
}

// provisionProfile はIdentityごとに1件だけプロフィールを作成する。
// 既存プロフィールがあればINSERTせずにそれを返す。
func (c *Coordinator) provisionProfile(ctx context.Context, identityID, username string) (*model.Profile, error) {
	existing, err := c.profiles.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing profile: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	profile := &model.Profile{
		ID:        identityID,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.profiles.Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	return profile, nil
}

// SignOut はプロバイダーにセッション破棄を委譲する。
// Coordinator自身の状態遷移は呼び出しの戻りではなく通知によって行われる。
func (c *Coordinator) SignOut(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return model.NewUnexpectedError(err)
	}

	if err := c.provider.SignOut(ctx); err != nil {
		return model.NewUnexpectedError(err)
	}

	slog.Info("user signed out")
	return nil
}

// SignInWithProvider は外部プロバイダーによるリダイレクト型認証を開始し、
// リダイレクト先URLを不透明なハンドルとして返す。
// 認証の完了は他のサインインと同様にセッション変更通知として観測される。
func (c *Coordinator) SignInWithProvider(ctx context.Context, providerName, redirectTo string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", model.NewUnexpectedError(err)
	}

	authorizeURL, err := c.provider.AuthorizeURL(providerName, redirectTo)
	if err != nil {
		if errors.Is(err, identity.ErrProviderUnavailable) {
			return "", model.NewFederatedSignInFailedError()
		}
		return "", model.NewUnexpectedError(err)
	}

	return authorizeURL, nil
}
