// Package account はワークスペースに接続されたSNSアカウントを管理する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/crosspost/internal/model"
	"github.com/hitoshi/crosspost/internal/repository"
)

// DefaultReconnectThreshold はトークン有効期限の何分前から再接続が必要とみなすかの既定値。
const DefaultReconnectThreshold = 5 * time.Minute

// ConnectParams はOAuth接続完了時に保存するアカウント情報。
type ConnectParams struct {
	WorkspaceID    string
	Platform       model.Platform
	PlatformUserID string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	Metadata       map[string]any
}

// Registry はSNSアカウントの検索・保存とトークン更新を担う。
// 再接続が必要かどうかの判定はRegistryだけが行う。
type Registry struct {
	repo      repository.SocialAccountRepository
	threshold time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry はRegistryを生成する。thresholdが0以下の場合は既定値を使う。
func NewRegistry(repo repository.SocialAccountRepository, threshold time.Duration, logger *slog.Logger) *Registry {
	if threshold <= 0 {
		threshold = DefaultReconnectThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:      repo,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// FindByWorkspaceAndPlatform はワークスペースに接続済みのアカウントを返す。未接続の場合はnilを返す。
func (r *Registry) FindByWorkspaceAndPlatform(ctx context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error) {
	acc, err := r.repo.FindByWorkspaceAndPlatform(ctx, workspaceID, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s account: %w", platform, err)
	}
	return acc, nil
}

// FindByID は保存されている最新のアカウントを返す。存在しない場合はnilを返す。
func (r *Registry) FindByID(ctx context.Context, id string) (*model.SocialAccount, error) {
	acc, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find account %s: %w", id, err)
	}
	return acc, nil
}

// CreateOrUpdate は一意キー (workspace, platform, platform_user_id) でアカウントをUPSERTする。
// 同じアカウントへの再接続は1行に収束する。
func (r *Registry) CreateOrUpdate(ctx context.Context, params ConnectParams) (*model.SocialAccount, error) {
	if params.WorkspaceID == "" || params.Platform == "" || params.PlatformUserID == "" {
		return nil, errors.New("workspace id, platform and platform user id are required")
	}
	if params.AccessToken == "" {
		return nil, errors.New("access token is required")
	}

	acc, err := r.repo.Upsert(ctx, &model.SocialAccount{
		WorkspaceID:    params.WorkspaceID,
		Platform:       params.Platform,
		PlatformUserID: params.PlatformUserID,
		AccessToken:    params.AccessToken,
		RefreshToken:   params.RefreshToken,
		TokenExpiresAt: params.TokenExpiresAt,
		Metadata:       params.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save %s account: %w", params.Platform, err)
	}

	r.logger.Info("social account connected",
		slog.String("account_id", acc.ID),
		slog.String("platform", string(acc.Platform)),
	)
	return acc, nil
}

// UpdateTokens はトークンリフレッシュの結果を保存する。トークン更新の唯一の書き込み経路。
func (r *Registry) UpdateTokens(ctx context.Context, credential model.AccessCredential) error {
	if credential.AccountID == "" {
		return errors.New("account id is required")
	}
	if err := r.repo.UpdateTokens(ctx, credential.AccountID, credential); err != nil {
		return fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	r.logger.Info("access token refreshed",
		slog.String("account_id", credential.AccountID),
	)
	return nil
}

// Delete はアカウント接続を削除する。
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// NeedsReconnect はアカウントのトークンが期限切れ間近（または期限切れ）かを返す。
func (r *Registry) NeedsReconnect(acc *model.SocialAccount) bool {
	return acc.NeedsReconnect(r.threshold, r.now())
}
