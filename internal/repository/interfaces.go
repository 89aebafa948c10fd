// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/crosspost/internal/model"
)

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// Create は投稿を作成し、採番されたIDとタイムスタンプを含む投稿を返す。
	Create(ctx context.Context, post *model.Post) (*model.Post, error)

	// Update はpatchで指定されたフィールドだけを更新する。updated_atは常に更新される。
	Update(ctx context.Context, id string, patch model.PostPatch) error

	// Delete は指定IDの投稿を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, id string) error

	// ClaimDueScheduled は scheduled_at <= now の予約投稿を最大limit件、
	// FOR UPDATE SKIP LOCKEDでpendingに遷移させて返す。
	ClaimDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Post, error)

	// FailStalePending は updated_at < before のまま残ったpending投稿をfailedにし、件数を返す。
	FailStalePending(ctx context.Context, before time.Time, message string) (int64, error)
}

// SocialAccountRepository はSNSアカウント接続情報の永続化インターフェース。
type SocialAccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SocialAccount, error)

	// FindByWorkspaceAndPlatform はワークスペースとプラットフォームでアカウントを検索する。
	// 複数ある場合は最も新しく更新されたものを返す。見つからない場合はnilを返す。
	FindByWorkspaceAndPlatform(ctx context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error)

	// Upsert は (workspace_id, platform, platform_user_id) をキーにアカウントを作成または更新する。
	Upsert(ctx context.Context, account *model.SocialAccount) (*model.SocialAccount, error)

	// UpdateTokens はアクセストークン、リフレッシュトークン、有効期限を更新する。
	UpdateTokens(ctx context.Context, id string, credential model.AccessCredential) error

	// Delete は指定IDのアカウントを削除する。
	Delete(ctx context.Context, id string) error
}

// WorkspaceRepository はワークスペースの参照インターフェース。
type WorkspaceRepository interface {
	// FindBySlug はslugでワークスペースを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Workspace, error)
}

// SettingsRepository はキー・バリュー形式の設定値の永続化インターフェース。
// valueにnilを渡すとキーを削除する。
type SettingsRepository interface {
	// GetValue は平文の設定値を取得する。未設定の場合はnilを返す。
	GetValue(ctx context.Context, key string) (*string, error)

	// SetValue は平文の設定値をUPSERTする。
	SetValue(ctx context.Context, key string, value *string) error

	// GetEncrypted は暗号化された設定値を復号して取得する。
	// 未設定または復号に失敗した場合はnilを返し、エラーにはしない。
	GetEncrypted(ctx context.Context, key string) (*string, error)

	// SetEncrypted は設定値を暗号化してUPSERTする。
	SetEncrypted(ctx context.Context, key string, value *string) error
}
