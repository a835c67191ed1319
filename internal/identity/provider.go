// Package identity は認証プロバイダーとの連携を提供する。
// プロバイダー内部の仕様には依存せず、狭いインターフェースを通じて
// セッション取得・サインイン・サインアップ・サインアウト・外部プロバイダー認証・
// セッション変更通知の購読を行う。
package identity

import (
	"context"
	"errors"

	"github.com/hitoshi/askviz/internal/model"
)

// EventType はセッション変更イベントの種類を表す。
type EventType string

const (
	// EventSignedIn はセッションが確立されたことを示す。
	EventSignedIn EventType = "SIGNED_IN"
	// EventSignedOut はセッションが破棄されたことを示す。
	EventSignedOut EventType = "SIGNED_OUT"
	// EventExpired はセッションが期限切れになったことを示す。
	// 現在セッションの扱いはEventSignedOutと同じ。
	EventExpired EventType = "EXPIRED"
)

// SessionEvent はプロバイダーから通知されるセッション変更イベントを表す。
// Sessionがnilの場合は未認証状態への遷移を意味する。
// イベントは発生順に配信され、最新のイベントが常に正となる。
type SessionEvent struct {
	Type    EventType
	Session *model.Session
}

// Unsubscribe はセッション変更通知の購読を解除する。
type Unsubscribe func()

// 既知のプロバイダーエラー。
// これ以外のエラーは呼び出し側でUNEXPECTEDとして正規化される。
var (
	// ErrInvalidCredentials は認証情報の不一致を表す。
	// プロバイダーはメール誤りとパスワード誤りを区別しない。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateAccount は同一メールアドレスのアカウントが既に存在することを表す。
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrProviderUnavailable はプロバイダーが要求を処理できなかったことを表す。
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// SignUpAttrs はサインアップ時にプロバイダーへ渡す追加属性。
type SignUpAttrs struct {
	Username string
}

// Provider は認証プロバイダーのインターフェース。
// 全ての呼び出しは中断点であり、結果はセッション変更通知と独立に返る。
// 現在セッションの遷移はOnSessionChangeの通知のみを正とする。
type Provider interface {
	// GetSession は現在のセッションを返す。セッションがない場合はnilを返す。
	GetSession(ctx context.Context) (*model.Session, error)

	// SignInWithPassword はメールアドレスとパスワードでサインインする。
	// 認証情報不一致の場合はErrInvalidCredentialsを返す。
	SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error)

	// SignUp は新しいIdentityを作成する。
	// 重複登録の場合はErrDuplicateAccountを返す。
	SignUp(ctx context.Context, email, password string, attrs SignUpAttrs) (*model.Identity, error)

	// SignOut は現在のセッションを破棄する。
	SignOut(ctx context.Context) error

	// AuthorizeURL は外部プロバイダーによるリダイレクト型認証の開始URLを返す。
	// 認証完了はOnSessionChangeの通知として観測される。
	AuthorizeURL(provider, redirectTo string) (string, error)

	// OnSessionChange はセッション変更通知の購読を登録する。
	// 通知は発生順に、登録されたコールバックへ逐次配信される。
	OnSessionChange(fn func(SessionEvent)) Unsubscribe
}
