package generation

import (
	"context"
	"strings"
	"testing"
)

func TestStaticGenerator_Generate(t *testing.T) {
	g := NewStaticGenerator()

	result, err := g.Generate(context.Background(), "なぜ空は青いのか")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.Contains(result.Answer, "なぜ空は青いのか") {
		t.Errorf("answer should contain the question, got %q", result.Answer)
	}

	spec := result.Spec
	if spec.Type != "3d-model" {
		t.Errorf("Type = %q, want 3d-model", spec.Type)
	}
	if spec.Position != [3]float64{0, 0, 0} {
		t.Errorf("Position = %v, want origin", spec.Position)
	}
	if spec.Scale != [3]float64{1, 1, 1} {
		t.Errorf("Scale = %v, want unit scale", spec.Scale)
	}
}

func TestStaticGenerator_GeometryAndColorFromPresets(t *testing.T) {
	g := NewStaticGenerator()

	geometries := make(map[string]bool, len(staticGeometries))
	for _, geo := range staticGeometries {
		geometries[geo] = true
	}
	colors := make(map[string]bool, len(staticColors))
	for _, c := range staticColors {
		colors[c] = true
	}

	// ランダム選択がプリセットの範囲に収まること
	for i := 0; i < 50; i++ {
		result, err := g.Generate(context.Background(), "question")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !geometries[result.Spec.Geometry] {
			t.Fatalf("Geometry = %q, not in presets", result.Spec.Geometry)
		}
		if !colors[result.Spec.Color] {
			t.Fatalf("Color = %q, not in presets", result.Spec.Color)
		}
		for axis, deg := range result.Spec.Rotation {
			if deg < 0 || deg >= 360 {
				t.Fatalf("Rotation[%d] = %v, want [0, 360)", axis, deg)
			}
		}
	}
}
