package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/crosspost/internal/model"
)

const postColumns = `id, workspace_id, content, platforms, status, scheduled_at,
	media_urls, hashtags, mentions, platform_post_ids, error_message,
	published_at, created_at, updated_at`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*model.Post, error) {
	post := &model.Post{}
	var platforms, mediaURLs, hashtags, mentions pq.StringArray
	var platformPostIDs []byte
	var scheduledAt, publishedAt sql.NullTime
	var errorMessage sql.NullString

	err := row.Scan(
		&post.ID, &post.WorkspaceID, &post.Content, &platforms, &post.Status, &scheduledAt,
		&mediaURLs, &hashtags, &mentions, &platformPostIDs, &errorMessage,
		&publishedAt, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	post.Platforms = make([]model.Platform, 0, len(platforms))
	for _, p := range platforms {
		post.Platforms = append(post.Platforms, model.Platform(p))
	}
	post.MediaURLs = []string(mediaURLs)
	post.Hashtags = []string(hashtags)
	post.Mentions = []string(mentions)

	post.PlatformPostIDs = map[model.Platform]string{}
	if len(platformPostIDs) > 0 {
		if err := json.Unmarshal(platformPostIDs, &post.PlatformPostIDs); err != nil {
			return nil, fmt.Errorf("platform_post_idsの解析に失敗しました: %w", err)
		}
	}

	if scheduledAt.Valid {
		post.ScheduledAt = &scheduledAt.Time
	}
	if publishedAt.Valid {
		post.PublishedAt = &publishedAt.Time
	}
	if errorMessage.Valid {
		post.ErrorMessage = &errorMessage.String
	}
	return post, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return post, nil
}

// Create は投稿を作成する。IDとタイムスタンプはDB側で採番される。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) (*model.Post, error) {
	ids, err := marshalPlatformPostIDs(post.PlatformPostIDs)
	if err != nil {
		return nil, err
	}
	status := post.Status
	if status == "" {
		status = model.PostStatusDraft
	}
	id := post.ID
	if id == "" {
		id = uuid.NewString()
	}

	created, err := scanPost(r.db.QueryRowContext(ctx,
		`INSERT INTO posts (id, workspace_id, content, platforms, status, scheduled_at,
		                    media_urls, hashtags, mentions, platform_post_ids, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+postColumns,
		id, post.WorkspaceID, post.Content, platformArray(post.Platforms), status, post.ScheduledAt,
		pq.StringArray(nonNil(post.MediaURLs)), pq.StringArray(nonNil(post.Hashtags)),
		pq.StringArray(nonNil(post.Mentions)), ids, post.ErrorMessage,
	))
	if err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return created, nil
}

// Update はpatchで指定されたフィールドだけを更新する。updated_atは常に更新される。
func (r *PostgresPostRepo) Update(ctx context.Context, id string, patch model.PostPatch) error {
	sets := []string{"updated_at = now()"}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.PlatformPostIDs != nil {
		ids, err := marshalPlatformPostIDs(patch.PlatformPostIDs)
		if err != nil {
			return err
		}
		add("platform_post_ids", ids)
	}
	if patch.ClearErrorMessage {
		sets = append(sets, "error_message = NULL")
	} else if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	if patch.PublishedAt != nil {
		add("published_at", *patch.PublishedAt)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE posts SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの投稿を削除する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	return nil
}

// FailStalePending は確保後に配信が完了しないままリース期間を過ぎたpending投稿をfailedにする。
// failedの投稿は再配信でき、配信済みのプラットフォームはスキップされる。
func (r *PostgresPostRepo) FailStalePending(ctx context.Context, before time.Time, message string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET status = 'failed', error_message = $2, updated_at = now()
		 WHERE status = 'pending' AND updated_at < $1`,
		before, message,
	)
	if err != nil {
		return 0, fmt.Errorf("滞留した投稿の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// ClaimDueScheduled は配信時刻を過ぎた予約投稿をpendingに遷移させて返す。
// 複数のワーカーが同時に実行しても同じ投稿を二重に取得しない。
func (r *PostgresPostRepo) ClaimDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE posts SET status = 'pending', updated_at = now()
		 WHERE id IN (
		     SELECT id FROM posts
		     WHERE status = 'scheduled' AND scheduled_at <= $1
		     ORDER BY scheduled_at ASC
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+postColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("予約投稿の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("予約投稿のスキャンに失敗しました: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("予約投稿の行イテレーションエラー: %w", err)
	}
	return posts, nil
}

func platformArray(platforms []model.Platform) pq.StringArray {
	arr := make(pq.StringArray, 0, len(platforms))
	for _, p := range platforms {
		arr = append(arr, string(p))
	}
	return arr
}

func marshalPlatformPostIDs(ids map[model.Platform]string) ([]byte, error) {
	if ids == nil {
		ids = map[model.Platform]string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("platform_post_idsのエンコードに失敗しました: %w", err)
	}
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
