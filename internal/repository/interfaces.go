// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/askviz/internal/model"
)

// ProfileRepository はプロフィールデータの永続化インターフェース。
// プロフィールのIDは認証プロバイダーのIdentity IDと同一で、
// Identityごとに必ず1件だけ存在する。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Create はプロフィールを作成する。
	Create(ctx context.Context, profile *model.Profile) error

	// UpdateUsername はプロフィールのユーザー名を更新し、更新後のレコードを返す。
	// 見つからない場合はnilを返す。
	UpdateUsername(ctx context.Context, id, username string) (*model.Profile, error)
}

// VisualizationRepository は可視化レコードの永続化インターフェース。
// レコードは追記専用であり、本コアから更新・削除されることはない。
type VisualizationRepository interface {
	// Create は可視化レコードを作成する。
	Create(ctx context.Context, v *model.Visualization) error

	// FindByID は指定IDのレコードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Visualization, error)

	// ListByUserID は指定ユーザーのレコードを作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Visualization, error)
}
