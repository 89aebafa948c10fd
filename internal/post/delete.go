package post

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/crosspost/internal/metrics"
	"github.com/hitoshi/crosspost/internal/model"
	"github.com/hitoshi/crosspost/internal/publisher"
	"github.com/hitoshi/crosspost/internal/repository"
)

// DeleteService は投稿をプラットフォーム、ローカルメディア、DBの順に削除する。
// プラットフォーム単位・メディア単位の失敗はログに残して処理を続ける。
type DeleteService struct {
	postRepo   repository.PostRepository
	accounts   AccountFinder
	publishers *publisher.Registry
	media      MediaStore
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewDeleteService はDeleteServiceを生成する。
func NewDeleteService(
	postRepo repository.PostRepository,
	accounts AccountFinder,
	publishers *publisher.Registry,
	media MediaStore,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *DeleteService {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeleteService{
		postRepo:   postRepo,
		accounts:   accounts,
		publishers: publishers,
		media:      media,
		metrics:    m,
		logger:     logger,
	}
}

// Delete は投稿を削除する。投稿が存在しない場合はfalseを返す。
// エラーを返すのは投稿自体の取得・削除に失敗した場合のみ。
func (s *DeleteService) Delete(ctx context.Context, workspaceID, postID string) (bool, error) {
	p, err := loadPost(ctx, s.postRepo.FindByID, workspaceID, postID)
	if err != nil {
		return false, fmt.Errorf("failed to load post: %w", err)
	}
	if p == nil {
		return false, nil
	}

	for _, platform := range p.Platforms {
		platformPostID, ok := p.PlatformPostIDs[platform]
		if !ok || platformPostID == "" {
			continue
		}
		s.deleteFromPlatform(ctx, workspaceID, p.ID, platform, platformPostID)
	}

	for _, mediaURL := range p.MediaURLs {
		if err := s.media.DeleteByURL(ctx, mediaURL); err != nil {
			s.logger.Warn("failed to delete media file",
				slog.String("post_id", p.ID),
				slog.String("media_url", mediaURL),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.postRepo.Delete(ctx, p.ID); err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}

	s.logger.Info("post deleted",
		slog.String("post_id", p.ID),
	)
	return true, nil
}

// deleteFromPlatform はプラットフォーム上の投稿を削除する。失敗は記録のみ行う。
func (s *DeleteService) deleteFromPlatform(ctx context.Context, workspaceID, postID string, platform model.Platform, platformPostID string) {
	attrs := []any{
		slog.String("post_id", postID),
		platformAttr(platform),
		slog.String("platform_post_id", platformPostID),
	}

	acc, err := s.accounts.FindByWorkspaceAndPlatform(ctx, workspaceID, platform)
	if err != nil {
		s.metrics.RecordPlatformDelete(string(platform), metrics.ResultFailure)
		s.logger.Warn("failed to look up account for platform delete", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	if acc == nil {
		s.metrics.RecordPlatformDelete(string(platform), metrics.ResultSkipped)
		s.logger.Warn("no connected account, skipping platform delete", attrs...)
		return
	}

	pub, ok := s.publishers.Get(platform)
	deleter, canDelete := pub.(publisher.Deleter)
	if !ok || !canDelete {
		s.metrics.RecordPlatformDelete(string(platform), metrics.ResultSkipped)
		s.logger.Warn("platform does not support delete, skipping", attrs...)
		return
	}

	if err := deleter.Delete(ctx, platformPostID, acc); err != nil {
		s.metrics.RecordPlatformDelete(string(platform), metrics.ResultFailure)
		s.logger.Warn("failed to delete post from platform", append(attrs, slog.String("error", err.Error()))...)
		return
	}

	s.metrics.RecordPlatformDelete(string(platform), metrics.ResultSuccess)
	s.logger.Info("deleted post from platform", attrs...)
}
