package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/askviz/internal/model"
)

// PostgresVisualizationRepo はPostgreSQLを使用した可視化レコードリポジトリ。
// 可視化記述はjsonbカラムにそのまま保存する。
type PostgresVisualizationRepo struct {
	db *sql.DB
}

// NewPostgresVisualizationRepo はPostgresVisualizationRepoを生成する。
func NewPostgresVisualizationRepo(db *sql.DB) *PostgresVisualizationRepo {
	return &PostgresVisualizationRepo{db: db}
}

// Create は可視化レコードを作成する。
func (r *PostgresVisualizationRepo) Create(ctx context.Context, v *model.Visualization) error {
	specJSON, err := json.Marshal(v.Spec)
	if err != nil {
		return fmt.Errorf("failed to encode visualization spec: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO visualizations (id, user_id, question, answer, visualization_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.UserID, v.Question, v.Answer, specJSON, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert visualization: %w", err)
	}
	return nil
}

// FindByID は指定IDのレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresVisualizationRepo) FindByID(ctx context.Context, id string) (*model.Visualization, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, question, answer, visualization_data, created_at
		 FROM visualizations
		 WHERE id = $1`,
		id,
	)

	v, err := scanVisualization(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find visualization by ID: %w", err)
	}

	return v, nil
}

// ListByUserID は指定ユーザーのレコードを作成日時の降順で返す。
func (r *PostgresVisualizationRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Visualization, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, question, answer, visualization_data, created_at
		 FROM visualizations
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list visualizations: %w", err)
	}
	defer rows.Close()

	var visualizations []*model.Visualization
	for rows.Next() {
		v, err := scanVisualization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visualization: %w", err)
		}
		visualizations = append(visualizations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visualizations: %w", err)
	}

	return visualizations, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanVisualization は1行をVisualizationにデコードする。
func scanVisualization(row rowScanner) (*model.Visualization, error) {
	v := &model.Visualization{}
	var specJSON []byte

	if err := row.Scan(&v.ID, &v.UserID, &v.Question, &v.Answer, &specJSON, &v.CreatedAt); err != nil {
		return nil, err
	}

	if len(specJSON) > 0 {
		if err := json.Unmarshal(specJSON, &v.Spec); err != nil {
			return nil, fmt.Errorf("failed to decode visualization spec: %w", err)
		}
	}

	return v, nil
}

// compile-time interface check
var _ VisualizationRepository = (*PostgresVisualizationRepo)(nil)
