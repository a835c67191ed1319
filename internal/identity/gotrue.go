package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/askviz/internal/model"
)

const (
	// eventBufferSize はディスパッチ用イベントチャネルのバッファサイズ。
	eventBufferSize = 16
)

// GoTrueConfig はGoTrue互換認証サービスのクライアント設定。
type GoTrueConfig struct {
	// BaseURL は認証サービスのベースURL（例: https://xyz.supabase.co/auth/v1）。
	BaseURL string
	// APIKey は全リクエストのapikeyヘッダーに付与するキー。
	APIKey string
	// HTTPClient は省略時 http.DefaultClient。
	HTTPClient *http.Client
}

// GoTrueClient はGoTrue互換の認証サービスに対するProvider実装。
// プロバイダー側セッションを1つ保持し、セッションの確立・破棄・期限切れを
// 順序付きのSessionEventとして購読者に配信する。
// イベント配信は単一のディスパッチゴルーチンが発生順に行う。
type GoTrueClient struct {
	config     GoTrueConfig
	httpClient *http.Client

	mu          sync.Mutex
	session     *model.Session
	listeners   map[int]func(SessionEvent)
	nextID      int
	expiryTimer *time.Timer
	closed      bool

	events chan SessionEvent
	done   chan struct{}
}

// NewGoTrueClient はGoTrueClientを生成し、イベントディスパッチを開始する。
func NewGoTrueClient(config GoTrueConfig) *GoTrueClient {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &GoTrueClient{
		config:     config,
		httpClient: httpClient,
		listeners:  make(map[int]func(SessionEvent)),
		events:     make(chan SessionEvent, eventBufferSize),
		done:       make(chan struct{}),
	}

	go c.dispatchLoop()

	return c
}

// Close はディスパッチゴルーチンと期限切れタイマーを停止する。
func (c *GoTrueClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
	c.mu.Unlock()

	close(c.done)
}

// dispatchLoop はイベントを発生順に購読者へ配信する。
// 単一ゴルーチンで処理するため、購読者から見たイベント順序は発生順と一致する。
func (c *GoTrueClient) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.mu.Lock()
			fns := make([]func(SessionEvent), 0, len(c.listeners))
			for _, fn := range c.listeners {
				fns = append(fns, fn)
			}
			c.mu.Unlock()

			for _, fn := range fns {
				fn(ev)
			}
		}
	}
}

// emit はイベントをディスパッチキューに積む。
func (c *GoTrueClient) emit(ev SessionEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// setSession は現在セッションを置き換え、期限切れタイマーを再設定する。
// 呼び出し元がc.muを保持していない前提。
func (c *GoTrueClient) setSession(session *model.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = session

	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
	if session == nil || session.ExpiresAt.IsZero() || c.closed {
		return
	}

	d := time.Until(session.ExpiresAt)
	token := session.AccessToken
	c.expiryTimer = time.AfterFunc(d, func() {
		c.expireSession(token)
	})
}

// expireSession は期限切れタイマーからの呼び出しでセッションを破棄する。
// タイマー発火後に別セッションへ置き換わっていた場合は何もしない。
func (c *GoTrueClient) expireSession(token string) {
	c.mu.Lock()
	if c.session == nil || c.session.AccessToken != token {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	c.emit(SessionEvent{Type: EventExpired, Session: nil})
}

// GetSession は現在のセッションを返す。セッションがない場合はnilを返す。
func (c *GoTrueClient) GetSession(_ context.Context) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, nil
	}
	copied := *c.session
	return &copied, nil
}

// OnSessionChange はセッション変更通知の購読を登録する。
func (c *GoTrueClient) OnSessionChange(fn func(SessionEvent)) Unsubscribe {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// gotrueUser はGoTrueのユーザーレスポンス。
type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// gotrueTokenResponse はトークン発行エンドポイントのレスポンス。
type gotrueTokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	User        gotrueUser `json:"user"`
}

// gotrueErrorResponse はGoTrueのエラーレスポンス。
// バージョンによりフィールド名が異なるため複数の形状を受け付ける。
type gotrueErrorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	ErrorField       string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// message はエラーレスポンスから人間可読なメッセージを取り出す。
func (e *gotrueErrorResponse) message() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.ErrorDescription != "" {
		return e.ErrorDescription
	}
	return e.ErrorField
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
// 成功時はセッションを確立しEventSignedInを通知する。
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	reqBody := map[string]string{
		"email":    email,
		"password": password,
	}

	var tokenResp gotrueTokenResponse
	if err := c.post(ctx, "/token?grant_type=password", "", reqBody, &tokenResp); err != nil {
		return nil, err
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in sign-in response")
	}

	session := c.sessionFromToken(&tokenResp)
	c.setSession(session)
	c.emit(SessionEvent{Type: EventSignedIn, Session: session})

	identity := session.Identity
	return &identity, nil
}

// gotrueSignupResponse はサインアップエンドポイントのレスポンス。
// メール確認が不要な設定の場合はトークン一式が、必要な場合はユーザーのみが返る。
type gotrueSignupResponse struct {
	gotrueTokenResponse
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignUp は新しいIdentityを作成する。
// プロバイダーがセッションを同時発行した場合はEventSignedInを通知する。
func (c *GoTrueClient) SignUp(ctx context.Context, email, password string, attrs SignUpAttrs) (*model.Identity, error) {
	reqBody := map[string]any{
		"email":    email,
		"password": password,
		"data": map[string]string{
			"username": attrs.Username,
		},
	}

	var signupResp gotrueSignupResponse
	if err := c.post(ctx, "/signup", "", reqBody, &signupResp); err != nil {
		return nil, err
	}

	// セッション同時発行の場合はトークンレスポンス内にユーザーが含まれる
	if signupResp.AccessToken != "" {
		session := c.sessionFromToken(&signupResp.gotrueTokenResponse)
		c.setSession(session)
		c.emit(SessionEvent{Type: EventSignedIn, Session: session})

		identity := session.Identity
		return &identity, nil
	}

	if signupResp.ID == "" {
		return nil, fmt.Errorf("empty user ID in sign-up response")
	}

	return &model.Identity{ID: signupResp.ID, Email: signupResp.Email}, nil
}

// SignOut は現在のセッションを破棄し、EventSignedOutを通知する。
// プロバイダー側の破棄に失敗した場合はセッションを維持したままエラーを返す。
// セッションを保持していない場合は何もせず、イベントも通知しない。
func (c *GoTrueClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	hasSession := c.session != nil
	token := ""
	if hasSession {
		token = c.session.AccessToken
	}
	c.mu.Unlock()

	if !hasSession {
		return nil
	}

	if token != "" {
		if err := c.post(ctx, "/logout", token, nil, nil); err != nil {
			return err
		}
	}

	c.setSession(nil)
	c.emit(SessionEvent{Type: EventSignedOut, Session: nil})
	return nil
}

// AuthorizeURL は外部プロバイダーによるリダイレクト型認証の開始URLを返す。
func (c *GoTrueClient) AuthorizeURL(provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("%w: empty provider name", ErrProviderUnavailable)
	}

	params := url.Values{
		"provider": {provider},
	}
	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}

	return strings.TrimSuffix(c.config.BaseURL, "/") + "/authorize?" + params.Encode(), nil
}

// sessionFromToken はトークンレスポンスからSessionを構築する。
func (c *GoTrueClient) sessionFromToken(tokenResp *gotrueTokenResponse) *model.Session {
	var expiresAt time.Time
	if tokenResp.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return &model.Session{
		Identity: model.Identity{
			ID:    tokenResp.User.ID,
			Email: tokenResp.User.Email,
		},
		AccessToken: tokenResp.AccessToken,
		ExpiresAt:   expiresAt,
	}
}

// post はGoTrueエンドポイントへJSONリクエストを送り、レスポンスをoutにデコードする。
// エラーステータスの場合はエラーボディを既知のエラー種別に分類する。
func (c *GoTrueClient) post(ctx context.Context, path, bearerToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	reqURL := strings.TrimSuffix(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.config.APIKey)
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return classifyError(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response body: %w", err)
		}
	}

	return nil
}

// classifyError はGoTrueのエラーレスポンスを既知のエラー種別に分類する。
// 既知の形状に一致しないエラーはステータスとメッセージをそのまま保持して返す。
func classifyError(statusCode int, body []byte) error {
	var errResp gotrueErrorResponse
	// パース失敗してもゼロ値で分類を続行する
	_ = json.Unmarshal(body, &errResp)

	msg := errResp.message()

	switch {
	case errResp.ErrorCode == "invalid_credentials",
		strings.Contains(msg, "Invalid login credentials"):
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	case errResp.ErrorCode == "user_already_exists",
		errResp.ErrorCode == "email_exists",
		strings.Contains(msg, "already registered"):
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, msg)
	}

	if msg == "" {
		msg = string(body)
	}
	return fmt.Errorf("identity provider returned status %d: %s", statusCode, msg)
}

// compile-time interface check
var _ Provider = (*GoTrueClient)(nil)
