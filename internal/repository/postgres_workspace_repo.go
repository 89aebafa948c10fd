package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/crosspost/internal/model"
)

// PostgresWorkspaceRepo はPostgreSQLを使用したワークスペースリポジトリ。
type PostgresWorkspaceRepo struct {
	db *sql.DB
}

// NewPostgresWorkspaceRepo はPostgresWorkspaceRepoを生成する。
func NewPostgresWorkspaceRepo(db *sql.DB) *PostgresWorkspaceRepo {
	return &PostgresWorkspaceRepo{db: db}
}

// FindBySlug はslugでワークスペースを取得する。見つからない場合はnilを返す。
func (r *PostgresWorkspaceRepo) FindBySlug(ctx context.Context, slug string) (*model.Workspace, error) {
	ws := &model.Workspace{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, slug, created_at FROM workspaces WHERE slug = $1`,
		slug,
	).Scan(&ws.ID, &ws.Slug, &ws.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ワークスペースの取得に失敗しました: %w", err)
	}
	return ws, nil
}

// compile-time interface check
var _ WorkspaceRepository = (*PostgresWorkspaceRepo)(nil)
