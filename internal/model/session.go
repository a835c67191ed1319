// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証プロバイダーが管理するアカウント情報を表す。
// プロバイダー側で作成された後、本サービスからは参照のみ行い変更しない。
type Identity struct {
	ID    string
	Email string
}

// Session は認証済みコンテキストの生きた証明を表す。
// アクセストークンと有効期限はプロバイダーが発行したものをそのまま保持する。
type Session struct {
	Identity    Identity
	AccessToken string
	ExpiresAt   time.Time
}

// Expired はセッションが期限切れかどうかを判定する。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
