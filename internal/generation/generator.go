// Package generation は質問テキストから回答と3D可視化記述を生成する
// 外部サービスとの連携を提供する。
package generation

import (
	"context"

	"github.com/hitoshi/askviz/internal/model"
)

// Generator は回答生成サービスのインターフェース。
// 呼び出しに副作用はなく、失敗してもレコードは一切作成されない。
type Generator interface {
	// Generate は質問テキストに対する回答と可視化記述を返す。
	Generate(ctx context.Context, question string) (*model.GeneratedAnswer, error)
}
