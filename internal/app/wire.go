package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/crosspost/internal/account"
	"github.com/hitoshi/crosspost/internal/config"
	"github.com/hitoshi/crosspost/internal/credential"
	"github.com/hitoshi/crosspost/internal/metrics"
	"github.com/hitoshi/crosspost/internal/model"
	"github.com/hitoshi/crosspost/internal/post"
	"github.com/hitoshi/crosspost/internal/publisher"
	"github.com/hitoshi/crosspost/internal/repository"
	"github.com/hitoshi/crosspost/internal/security"
	"github.com/hitoshi/crosspost/internal/storage"
	"github.com/hitoshi/crosspost/internal/worker/schedule"
)

// services はサブコマンドが利用する依存関係一式。
type services struct {
	workspace   *model.Workspace
	postRepo    *repository.PostgresPostRepo
	credentials *credential.Store
	accounts    *account.Registry
	publishers  *publisher.Registry
	publish     *post.PublishService
	delete      *post.DeleteService
	insights    *post.InsightsService
	scheduler   *schedule.Scheduler
}

// buildServices はDB接続と設定から全依存関係をワイヤリングする。
// ワークスペースはWORKSPACE_SLUGで解決し、以降の全呼び出しに明示的に渡す。
func buildServices(ctx context.Context, cfg *config.Config, db *sql.DB, m metrics.MetricsCollector, logger *slog.Logger) (*services, error) {
	// 1. リポジトリの初期化
	cipher, err := security.NewSecretBox(cfg.SettingsEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings cipher: %w", err)
	}
	postRepo := repository.NewPostgresPostRepo(db)
	accountRepo := repository.NewPostgresSocialAccountRepo(db)
	workspaceRepo := repository.NewPostgresWorkspaceRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db, cipher, logger)

	// 2. ワークスペースの解決
	ws, err := workspaceRepo.FindBySlug(ctx, cfg.WorkspaceSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace %q not found (run migrate first)", cfg.WorkspaceSlug)
	}

	// 3. アカウント・資格情報
	credentials := credential.NewStore(settingsRepo)
	accounts := account.NewRegistry(accountRepo, cfg.TokenRefreshThreshold, logger)

	// 4. パブリッシャー
	publishers := buildPublishers(cfg, credentials, accounts, m, logger)

	// 5. ドメインサービス
	media := storage.NewLocalStore(cfg.MediaStorageDir, cfg.MediaStorageMarker, logger)
	publishSvc := post.NewPublishService(postRepo, accounts, publishers, m, logger)
	deleteSvc := post.NewDeleteService(postRepo, accounts, publishers, media, m, logger)
	insightsSvc := post.NewInsightsService(postRepo, accounts, publishers, logger)

	scheduler := schedule.NewScheduler(
		postRepo, publishSvc, m, logger,
		cfg.ScheduleMaxConcurrent, cfg.ScheduleBatchSize, cfg.SchedulePendingLease,
	)

	return &services{
		workspace:   ws,
		postRepo:    postRepo,
		credentials: credentials,
		accounts:    accounts,
		publishers:  publishers,
		publish:     publishSvc,
		delete:      deleteSvc,
		insights:    insightsSvc,
		scheduler:   scheduler,
	}, nil
}

// buildPublishers は起動時に1回だけパブリッシャーレジストリを構築する。
func buildPublishers(
	cfg *config.Config,
	credentials publisher.CredentialResolver,
	tokens publisher.TokenStore,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *publisher.Registry {
	client := publisher.ClientConfig{
		Timeout:   cfg.PublisherHTTPTimeout,
		RateLimit: cfg.PublisherRateLimit,
		RateBurst: cfg.PublisherRateBurst,
	}

	threads := publisher.NewThreadsPublisher(publisher.ThreadsConfig{
		BaseURL:         cfg.ThreadsAPIBaseURL,
		PollInterval:    cfg.ThreadsPollInterval,
		PollMaxAttempts: cfg.ThreadsPollMaxAttempts,
		Client:          client,
	}, m, logger)

	twitter := publisher.NewTwitterPublisher(publisher.TwitterConfig{
		BaseURL:      cfg.TwitterAPIBaseURL,
		ClientID:     cfg.TwitterClientID,
		ClientSecret: cfg.TwitterClientSecret,
		Client:       client,
	}, credentials, tokens, m, logger)

	return publisher.NewRegistry(threads, twitter)
}

// envCredential は環境変数で与えられたプロバイダーのOAuthクライアント資格情報を返す。
func envCredential(cfg *config.Config, provider model.Platform) model.OAuthCredential {
	switch provider {
	case model.PlatformTwitter:
		return model.OAuthCredential{ClientID: cfg.TwitterClientID, ClientSecret: cfg.TwitterClientSecret}
	case model.PlatformThreads:
		return model.OAuthCredential{ClientID: cfg.ThreadsClientID, ClientSecret: cfg.ThreadsClientSecret}
	default:
		return model.OAuthCredential{}
	}
}

// parsePlatform はコマンドライン引数のプラットフォーム名を検証する。
func parsePlatform(s string) (model.Platform, error) {
	switch p := model.Platform(s); p {
	case model.PlatformTwitter, model.PlatformThreads, model.PlatformLinkedIn:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q (want twitter, threads or linkedin)", s)
	}
}
