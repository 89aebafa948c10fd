package post

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/crosspost/internal/model"
	"github.com/hitoshi/crosspost/internal/publisher"
	"github.com/hitoshi/crosspost/internal/repository"
)

// maxTimelinePages はCollectTimelineが辿る最大ページ数。
const maxTimelinePages = 100

// InsightsService はプラットフォームからタイムラインと投稿メトリクスを取得する。
type InsightsService struct {
	postRepo   repository.PostRepository
	accounts   AccountFinder
	publishers *publisher.Registry
	logger     *slog.Logger
}

// NewInsightsService はInsightsServiceを生成する。
func NewInsightsService(
	postRepo repository.PostRepository,
	accounts AccountFinder,
	publishers *publisher.Registry,
	logger *slog.Logger,
) *InsightsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InsightsService{
		postRepo:   postRepo,
		accounts:   accounts,
		publishers: publishers,
		logger:     logger,
	}
}

// CollectTimeline はsince以降の投稿を新しい順に収集する。
// sinceより古い投稿に到達した時点、または次のページがなくなった時点で終了する。
func (s *InsightsService) CollectTimeline(ctx context.Context, workspaceID string, platform model.Platform, since time.Time, pageSize int) ([]model.TimelineItem, error) {
	acc, err := s.accounts.FindByWorkspaceAndPlatform(ctx, workspaceID, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if acc == nil {
		return nil, model.NewAccountNotConnectedError(platform)
	}

	pub, ok := s.publishers.Get(platform)
	fetcher, canFetch := pub.(publisher.TimelineFetcher)
	if !ok || !canFetch {
		return nil, model.NewUnsupportedPlatformError(platform)
	}

	var items []model.TimelineItem
	cursor := ""
	for page := 0; page < maxTimelinePages; page++ {
		result, err := fetcher.FetchTimeline(ctx, acc, cursor, pageSize)
		if err != nil {
			return nil, err
		}

		for _, item := range result.Items {
			if item.Timestamp.Before(since) {
				return items, nil
			}
			items = append(items, item)
		}

		if !result.HasMore || result.NextCursor == "" {
			return items, nil
		}
		cursor = result.NextCursor
	}

	s.logger.Warn("timeline page limit reached",
		platformAttr(platform),
		slog.Int("max_pages", maxTimelinePages),
	)
	return items, nil
}

// FetchInsights は投稿の各プラットフォーム上のメトリクスを取得する。
// インサイト取得に対応していないプラットフォームや、アカウント未接続のプラットフォームは結果に含めない。
func (s *InsightsService) FetchInsights(ctx context.Context, workspaceID, postID string) ([]model.PostInsights, error) {
	p, err := loadPost(ctx, s.postRepo.FindByID, workspaceID, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	var results []model.PostInsights
	for _, platform := range p.Platforms {
		platformPostID, ok := p.PlatformPostIDs[platform]
		if !ok || platformPostID == "" {
			continue
		}

		pub, ok := s.publishers.Get(platform)
		fetcher, canFetch := pub.(publisher.InsightsFetcher)
		if !ok || !canFetch {
			continue
		}

		acc, err := s.accounts.FindByWorkspaceAndPlatform(ctx, workspaceID, platform)
		if err != nil {
			return nil, fmt.Errorf("failed to find account: %w", err)
		}
		if acc == nil {
			s.logger.Warn("no connected account, skipping insights",
				slog.String("post_id", p.ID),
				platformAttr(platform),
			)
			continue
		}

		insights, err := fetcher.FetchInsights(ctx, platformPostID, acc)
		if err != nil {
			return nil, err
		}
		results = append(results, *insights)
	}
	return results, nil
}
