package generation

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/hitoshi/askviz/internal/model"
)

// 静的生成に使用する形状と色のプリセット。
var (
	staticGeometries = []string{"cube", "sphere", "cylinder", "torus"}
	staticColors     = []string{"#2563EB", "#DC2626", "#059669", "#D97706", "#7C3AED"}
)

// StaticGenerator は外部サービスを呼び出さないGenerator実装。
// 生成エンドポイントが未設定の環境向けに、テンプレート回答と
// 擬似ランダムな可視化記述を返す。デモおよび開発用。
type StaticGenerator struct{}

// NewStaticGenerator はStaticGeneratorを生成する。
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

// Generate はテンプレート回答とランダムな形状・色・回転の可視化記述を返す。
func (g *StaticGenerator) Generate(_ context.Context, question string) (*model.GeneratedAnswer, error) {
	answer := fmt.Sprintf(
		"「%s」についての説明です。\n\n"+
			"これは生成サービス未接続時のサンプル回答です。"+
			"本番環境では、質問の文脈を理解したAIモデルが回答と可視化記述を生成します。",
		question,
	)

	return &model.GeneratedAnswer{
		Answer: answer,
		Spec: model.VisualizationSpec{
			Type:     "3d-model",
			Geometry: staticGeometries[rand.IntN(len(staticGeometries))],
			Position: [3]float64{0, 0, 0},
			Rotation: [3]float64{
				rand.Float64() * 360,
				rand.Float64() * 360,
				rand.Float64() * 360,
			},
			Scale: [3]float64{1, 1, 1},
			Color: staticColors[rand.IntN(len(staticColors))],
		},
	}, nil
}

// compile-time interface check
var _ Generator = (*StaticGenerator)(nil)
