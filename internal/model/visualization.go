package model

import "time"

// VisualizationSpec は描画可能な3D記述を表す。
// 本コアでは中身を解釈せず、生成サービスから受け取った値をそのまま保存・返却する。
// 解釈はフロントエンドのレンダラーの責務。
type VisualizationSpec struct {
	Type     string     `json:"type"`
	Geometry string     `json:"geometry"`
	Position [3]float64 `json:"position"`
	Rotation [3]float64 `json:"rotation"`
	Scale    [3]float64 `json:"scale"`
	Color    string     `json:"color,omitempty"`
}

// Visualization は回答済みの質問1件を表す。
// 作成後は更新・削除されない追記専用のレコード。
type Visualization struct {
	ID        string
	UserID    string
	Question  string
	Answer    string
	Spec      VisualizationSpec
	CreatedAt time.Time
}

// GeneratedAnswer は生成サービスの応答を表す。
type GeneratedAnswer struct {
	Answer string
	Spec   VisualizationSpec
}
