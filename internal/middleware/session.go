// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/askviz/internal/model"
)

// ClientContextCookieName はクライアントコンテキストIDを保持する
// HTTP Only Cookieの名前。サインアップ・サインイン時にハンドラーが発行する。
const ClientContextCookieName = "askviz_ctx"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	clientIDContextKey = contextKey("client_id")
	sessionContextKey  = contextKey("session")
)

// SessionResolver はクライアントコンテキストIDから現在のセッションを
// 解決するインターフェース。セッションが無い（匿名・期限切れ・未知のID）
// 場合はnilを返す。
type SessionResolver interface {
	ResolveSession(clientID string) *model.Session
}

// NewClientContextMiddleware はCookieからクライアントコンテキストIDを読み取り、
// 現在のセッションをリクエストコンテキストに注入するミドルウェアを返す。
// セッションの有無にかかわらず後続ハンドラーを呼び出す。
// 認証を必須にするルートではRequireSessionを後段に配置する。
func NewClientContextMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(ClientContextCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), clientIDContextKey, cookie.Value)
			if session := resolver.ResolveSession(cookie.Value); session != nil {
				ctx = context.WithValue(ctx, sessionContextKey, session)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession は認証済みセッションを必須とするミドルウェアを返す。
// セッションが無いリクエストには401と統一エラーフォーマットで応答する。
func RequireSession() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := SessionFromContext(r.Context()); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストから現在のセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, error) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok || session == nil {
		return nil, fmt.Errorf("session not found in context")
	}
	return session, nil
}

// ClientIDFromContext はリクエストコンテキストからクライアントコンテキストIDを取得する。
func ClientIDFromContext(ctx context.Context) (string, error) {
	clientID, ok := ctx.Value(clientIDContextKey).(string)
	if !ok || clientID == "" {
		return "", fmt.Errorf("client context ID not found in context")
	}
	return clientID, nil
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
// ロギングおよびレート制限で使用する。
func UserIDFromContext(ctx context.Context) (string, error) {
	session, err := SessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	return session.Identity.ID, nil
}

// ContextWithClientID はコンテキストにクライアントコンテキストIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDContextKey, clientID)
}

// ContextWithSession はコンテキストにセッションを注入する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
