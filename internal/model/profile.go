package model

import "time"

// Profile はIdentityを拡張するアプリケーション側のユーザーレコードを表す。
// IDはプロバイダーのIdentity IDと同一で、Identityごとに必ず1件だけ存在する。
type Profile struct {
	ID        string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
