package post

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/hitoshi/crosspost/internal/metrics"
	"github.com/hitoshi/crosspost/internal/model"
	"github.com/hitoshi/crosspost/internal/publisher"
	"github.com/hitoshi/crosspost/internal/repository"
)

// PublishService は投稿を対象プラットフォームへ順番に配信し、結果を投稿に反映する。
//
// プラットフォームは登録順に1つずつ配信し、1つでも失敗した時点で残りは試行しない。
// 失敗時も、それまでに成功したプラットフォームの投稿IDは保存する。
// 再実行時は投稿IDが記録済みのプラットフォームを飛ばすため、重複投稿にならない。
type PublishService struct {
	postRepo   repository.PostRepository
	accounts   AccountFinder
	publishers *publisher.Registry
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewPublishService はPublishServiceを生成する。
func NewPublishService(
	postRepo repository.PostRepository,
	accounts AccountFinder,
	publishers *publisher.Registry,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *PublishService {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishService{
		postRepo:   postRepo,
		accounts:   accounts,
		publishers: publishers,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Publish は投稿を配信する。
// 全プラットフォームで成功した場合はpublished、いずれかで失敗した場合はfailedとして保存し、
// 失敗の原因となったエラーを返す。
func (s *PublishService) Publish(ctx context.Context, workspaceID, postID string) (*model.Post, error) {
	p, err := loadPost(ctx, s.postRepo.FindByID, workspaceID, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	ids := make(map[model.Platform]string, len(p.Platforms))
	for _, platform := range p.Platforms {
		if id, ok := p.PlatformPostIDs[platform]; ok && id != "" {
			ids[platform] = id
		}
	}

	var failure error
	for _, platform := range p.Platforms {
		if _, done := ids[platform]; done {
			s.logger.Info("platform already published, skipping",
				slog.String("post_id", p.ID),
				platformAttr(platform),
			)
			continue
		}

		id, err := s.publishTo(ctx, workspaceID, p, platform)
		if err != nil {
			failure = err
			break
		}
		ids[platform] = id
	}

	if failure != nil {
		return nil, s.markFailed(ctx, p, ids, failure)
	}

	published := model.PostStatusPublished
	publishedAt := s.now()
	patch := model.PostPatch{
		Status:            &published,
		PlatformPostIDs:   ids,
		ClearErrorMessage: true,
		PublishedAt:       &publishedAt,
	}
	if err := s.postRepo.Update(ctx, p.ID, patch); err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	s.logger.Info("post published",
		slog.String("post_id", p.ID),
		slog.Int("platform_count", len(ids)),
	)

	p.Status = published
	p.PlatformPostIDs = ids
	p.ErrorMessage = nil
	p.PublishedAt = &publishedAt
	return p, nil
}

// publishTo は1プラットフォームへの配信を行う。
func (s *PublishService) publishTo(ctx context.Context, workspaceID string, p *model.Post, platform model.Platform) (string, error) {
	start := time.Now()

	id, err := func() (string, error) {
		acc, err := s.accounts.FindByWorkspaceAndPlatform(ctx, workspaceID, platform)
		if err != nil {
			return "", err
		}
		if acc == nil {
			return "", model.NewAccountNotConnectedError(platform)
		}

		pub, ok := s.publishers.Get(platform)
		if !ok {
			return "", model.NewUnsupportedPlatformError(platform)
		}
		return pub.Publish(ctx, p, acc)
	}()

	s.metrics.RecordPublishLatency(string(platform), time.Since(start))
	if err != nil {
		s.metrics.RecordPublish(string(platform), metrics.ResultFailure)
		s.logger.Error("failed to publish to platform",
			slog.String("post_id", p.ID),
			platformAttr(platform),
			slog.String("error_kind", string(model.ErrorKindOf(err))),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	s.metrics.RecordPublish(string(platform), metrics.ResultSuccess)
	s.logger.Info("published to platform",
		slog.String("post_id", p.ID),
		platformAttr(platform),
		slog.String("platform_post_id", id),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return id, nil
}

// markFailed は投稿をfailedとして保存し、呼び出し元に返すエラーを返す。
// 成功済みプラットフォームの投稿IDも合わせて保存する。
func (s *PublishService) markFailed(ctx context.Context, p *model.Post, ids map[model.Platform]string, failure error) error {
	failed := model.PostStatusFailed
	msg := failure.Error()
	patch := model.PostPatch{
		Status:          &failed,
		ErrorMessage:    &msg,
		PlatformPostIDs: maps.Clone(ids),
	}
	if err := s.postRepo.Update(ctx, p.ID, patch); err != nil {
		s.logger.Error("failed to record publish failure",
			slog.String("post_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	return failure
}
