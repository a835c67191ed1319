package session

import (
	"context"
	"log/slog"
)

// sagaStep は複数段階処理の1ステップを表す。
// Runが失敗した場合、それまでに完了したステップのCompensateが逆順に実行される。
type sagaStep struct {
	// Name はログ出力用のステップ名。
	Name string
	// Run はステップ本体。
	Run func(ctx context.Context) error
	// Compensate はこのステップ完了後に後続ステップが失敗した場合の補償処理。
	// 不要な場合はnil。
	Compensate func(ctx context.Context) error
}

// runSaga はステップを順に実行する。
// いずれかのステップが失敗した場合、完了済みステップの補償処理を逆順に実行し、
// 失敗したステップのエラーをそのまま返す。
// 補償処理自体の失敗は処理を中断せず、ログに記録して続行する。
func runSaga(ctx context.Context, name string, steps []sagaStep) error {
	var completed []sagaStep

	for _, step := range steps {
		if err := step.Run(ctx); err != nil {
			slog.Warn("saga step failed, compensating",
				slog.String("saga", name),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)

			for i := len(completed) - 1; i >= 0; i-- {
				prev := completed[i]
				if prev.Compensate == nil {
					continue
				}
				if compErr := prev.Compensate(ctx); compErr != nil {
					slog.Error("saga compensation failed",
						slog.String("saga", name),
						slog.String("step", prev.Name),
						slog.String("error", compErr.Error()),
					)
				}
			}

			return err
		}
		completed = append(completed, step)
	}

	return nil
}
