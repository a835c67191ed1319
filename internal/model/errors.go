package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// プロバイダーやストア固有のエラーはコーディネーター/パイプラインの境界で
// 必ずこの型に正規化され、生のエラーは呼び出し側に渡らない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, ask, system
	Action   string // ユーザー向け対処方法
	cause    error  // 内部ログ用の元エラー（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は正規化前の元エラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// WithCause は元エラーを保持した複製を返す。
func (e *APIError) WithCause(err error) *APIError {
	clone := *e
	clone.cause = err
	return &clone
}

// AsAPIError はエラーチェーンからAPIErrorを取り出す。
// 見つからない場合はnilとfalseを返す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials        = "INVALID_CREDENTIALS"
	ErrCodeDuplicateAccount          = "DUPLICATE_ACCOUNT"
	ErrCodeProfileProvisioningFailed = "PROFILE_PROVISIONING_FAILED"
	ErrCodeFederatedSignInFailed     = "FEDERATED_SIGNIN_FAILED"
	ErrCodeNotAuthenticated          = "NOT_AUTHENTICATED"
	ErrCodeBlankQuestion             = "BLANK_QUESTION"
	ErrCodeGenerationFailed          = "GENERATION_FAILED"
	ErrCodePersistenceFailed         = "PERSISTENCE_FAILED"
	ErrCodeHistoryRefreshFailed      = "HISTORY_REFRESH_FAILED"
	ErrCodeUnexpected                = "UNEXPECTED"
)

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// アカウントの存在を推測されないよう、メールアドレス誤りとパスワード誤りを区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewDuplicateAccountError はアカウント重複エラーを生成する。
func NewDuplicateAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAccount,
		Message:  "このメールアドレスのアカウントは既に存在します。",
		Category: "auth",
		Action:   "サインインするか、別のメールアドレスで登録してください。",
	}
}

// NewProfileProvisioningFailedError はプロフィール作成失敗エラーを生成する。
// サインアップの補償処理（サインアウト）実行後に返される。
func NewProfileProvisioningFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileProvisioningFailed,
		Message:  "ユーザープロフィールの作成に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度サインアップしてください。",
	}
}

// NewFederatedSignInFailedError は外部プロバイダー認証の開始失敗エラーを生成する。
func NewFederatedSignInFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeFederatedSignInFailed,
		Message:  "外部プロバイダーでのサインインに失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "サインインが必要です。",
		Category: "auth",
		Action:   "サインインしてから再度お試しください。",
	}
}

// NewBlankQuestionError は空質問エラーを生成する。
func NewBlankQuestionError() *APIError {
	return &APIError{
		Code:     ErrCodeBlankQuestion,
		Message:  "質問が入力されていません。",
		Category: "validation",
		Action:   "質問を入力してから送信してください。",
	}
}

// NewGenerationFailedError は回答生成失敗エラーを生成する。
func NewGenerationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeGenerationFailed,
		Message:  "回答の生成に失敗しました。",
		Category: "ask",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPersistenceFailedError は回答保存失敗エラーを生成する。
// 生成済みの回答は破棄されず、履歴に残らない旨とともに呼び出し側へ返される。
func NewPersistenceFailedError() *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailed,
		Message:  "回答の保存に失敗しました。生成された回答は履歴に記録されません。",
		Category: "ask",
		Action:   "回答を確認のうえ、必要であれば再度質問してください。",
	}
}

// NewHistoryRefreshFailedError は履歴再取得失敗エラーを生成する。
// このエラーのみ非致命であり、成功した結果に付帯して返される。
func NewHistoryRefreshFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeHistoryRefreshFailed,
		Message:  "履歴の再取得に失敗しました。回答は保存されています。",
		Category: "ask",
		Action:   "履歴画面を再読み込みしてください。",
	}
}

// NewUnexpectedError は既知のエラー形状に一致しない場合のエラーを生成する。
func NewUnexpectedError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeUnexpected,
		Message:  "予期しないエラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    err,
	}
}
