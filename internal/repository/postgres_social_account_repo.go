package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/crosspost/internal/model"
)

const socialAccountColumns = `id, workspace_id, platform, platform_user_id, access_token,
	refresh_token, token_expires_at, metadata, created_at, updated_at`

// PostgresSocialAccountRepo はPostgreSQLを使用したSNSアカウントリポジトリ。
type PostgresSocialAccountRepo struct {
	db *sql.DB
}

// NewPostgresSocialAccountRepo はPostgresSocialAccountRepoを生成する。
func NewPostgresSocialAccountRepo(db *sql.DB) *PostgresSocialAccountRepo {
	return &PostgresSocialAccountRepo{db: db}
}

func scanSocialAccount(row rowScanner) (*model.SocialAccount, error) {
	account := &model.SocialAccount{}
	var refreshToken sql.NullString
	var expiresAt sql.NullTime
	var metadata []byte

	err := row.Scan(
		&account.ID, &account.WorkspaceID, &account.Platform, &account.PlatformUserID,
		&account.AccessToken, &refreshToken, &expiresAt, &metadata,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.RefreshToken = nullStringValue(refreshToken)
	if expiresAt.Valid {
		account.TokenExpiresAt = &expiresAt.Time
	}
	account.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &account.Metadata); err != nil {
			return nil, fmt.Errorf("metadataの解析に失敗しました: %w", err)
		}
	}
	return account, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresSocialAccountRepo) FindByID(ctx context.Context, id string) (*model.SocialAccount, error) {
	account, err := scanSocialAccount(r.db.QueryRowContext(ctx,
		`SELECT `+socialAccountColumns+` FROM social_accounts WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("SNSアカウントの取得に失敗しました: %w", err)
	}
	return account, nil
}

// FindByWorkspaceAndPlatform はワークスペースとプラットフォームでアカウントを検索する。
func (r *PostgresSocialAccountRepo) FindByWorkspaceAndPlatform(ctx context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error) {
	account, err := scanSocialAccount(r.db.QueryRowContext(ctx,
		`SELECT `+socialAccountColumns+`
		 FROM social_accounts
		 WHERE workspace_id = $1 AND platform = $2
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		workspaceID, string(platform),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("SNSアカウントの検索に失敗しました: %w", err)
	}
	return account, nil
}

// Upsert はアカウントを作成する。同じ (workspace_id, platform, platform_user_id) が存在する場合は
// トークンとメタデータを上書きする。
func (r *PostgresSocialAccountRepo) Upsert(ctx context.Context, account *model.SocialAccount) (*model.SocialAccount, error) {
	metadata := account.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("metadataのエンコードに失敗しました: %w", err)
	}

	saved, err := scanSocialAccount(r.db.QueryRowContext(ctx,
		`INSERT INTO social_accounts (id, workspace_id, platform, platform_user_id, access_token,
		                              refresh_token, token_expires_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (workspace_id, platform, platform_user_id)
		 DO UPDATE SET access_token = EXCLUDED.access_token,
		               refresh_token = EXCLUDED.refresh_token,
		               token_expires_at = EXCLUDED.token_expires_at,
		               metadata = EXCLUDED.metadata,
		               updated_at = now()
		 RETURNING `+socialAccountColumns,
		uuid.NewString(), account.WorkspaceID, string(account.Platform), account.PlatformUserID, account.AccessToken,
		nullString(account.RefreshToken), account.TokenExpiresAt, metadataJSON,
	))
	if err != nil {
		return nil, fmt.Errorf("SNSアカウントの保存に失敗しました: %w", err)
	}
	return saved, nil
}

// UpdateTokens はトークンと有効期限を更新する。
func (r *PostgresSocialAccountRepo) UpdateTokens(ctx context.Context, id string, credential model.AccessCredential) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE social_accounts
		 SET access_token = $1, refresh_token = $2, token_expires_at = $3, updated_at = now()
		 WHERE id = $4`,
		credential.AccessToken, nullString(credential.RefreshToken), credential.ExpiresAt, id,
	)
	if err != nil {
		return fmt.Errorf("トークンの更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("SNSアカウントが見つかりません: %s", id)
	}
	return nil
}

// Delete は指定IDのアカウントを削除する。
func (r *PostgresSocialAccountRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM social_accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("SNSアカウントの削除に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ SocialAccountRepository = (*PostgresSocialAccountRepo)(nil)
