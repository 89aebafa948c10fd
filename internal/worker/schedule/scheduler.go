// Package schedule は予約投稿のバックグラウンド配信を提供する。
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/crosspost/internal/metrics"
	"github.com/hitoshi/crosspost/internal/model"
)

// DefaultPendingLease は確保したpending投稿が配信中とみなされる期間の既定値。
const DefaultPendingLease = 15 * time.Minute

// stalePendingMessage はリース切れでfailedにした投稿に記録するメッセージ。
const stalePendingMessage = "Publishing was interrupted before completion; publish again to resume"

// DuePostClaimer は配信時刻を過ぎた予約投稿を確保する。
type DuePostClaimer interface {
	// ClaimDueScheduled はscheduled_at <= nowの予約投稿を最大limit件pendingに変更して返す。
	ClaimDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Post, error)

	// FailStalePending はupdated_at < beforeのまま残ったpending投稿をfailedにする。
	FailStalePending(ctx context.Context, before time.Time, message string) (int64, error)
}

// PostPublisher は1件の投稿を配信する。
type PostPublisher interface {
	Publish(ctx context.Context, workspaceID, postID string) (*model.Post, error)
}

// Scheduler は予約投稿の確保と並列配信を行う。
// ティッカーごとに期限到来の投稿を確保し、
// semaphoreパターンで投稿単位の並列数を制御しながら配信する。
// 1投稿内のプラットフォームは配信サービス側で順番に処理される。
type Scheduler struct {
	posts          DuePostClaimer
	publisher      PostPublisher
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	batchSize      int
	pendingLease   time.Duration
	now            func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合は4、batchSizeが0以下の場合は20、
// pendingLeaseが0以下の場合はDefaultPendingLeaseを使用する。
func NewScheduler(
	posts DuePostClaimer,
	publisher PostPublisher,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
	batchSize int,
	pendingLease time.Duration,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if pendingLease <= 0 {
		pendingLease = DefaultPendingLease
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		posts:          posts,
		publisher:      publisher,
		metrics:        m,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		batchSize:      batchSize,
		pendingLease:   pendingLease,
		now:            time.Now,
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("予約配信スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Int("batch_size", s.batchSize),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("予約配信サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("予約配信スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("予約配信サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は期限到来の予約投稿を1回確保し、並列で配信する。
// 個々の投稿の配信失敗は投稿自体にfailedとして記録されるため、ここではログのみ残す。
// 確保の前に、リース期間を過ぎても配信が完了していないpending投稿をfailedにする。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	s.failStalePending(ctx)

	// 予約投稿を確保（FOR UPDATE SKIP LOCKED）
	posts, err := s.posts.ClaimDueScheduled(ctx, s.now(), s.batchSize)
	if err != nil {
		return err
	}

	if len(posts) == 0 {
		s.logger.Debug("配信対象の予約投稿はありません")
		return nil
	}

	s.metrics.RecordScheduledClaimed(len(posts))
	s.logger.Info("予約配信サイクルを開始します",
		slog.Int("post_count", len(posts)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, p := range posts {
		wg.Add(1)
		sem <- struct{}{}

		go func(p *model.Post) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := s.publisher.Publish(ctx, p.WorkspaceID, p.ID); err != nil {
				s.logger.Error("予約投稿の配信に失敗しました",
					slog.String("post_id", p.ID),
					slog.String("workspace_id", p.WorkspaceID),
					slog.String("error", err.Error()),
				)
			}
		}(p)
	}

	wg.Wait()

	s.logger.Info("予約配信サイクルが完了しました",
		slog.Int("post_count", len(posts)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// failStalePending はプロセス停止などで取り残されたpending投稿をfailedにする。
// 失敗しても予約投稿の確保は続行する。
func (s *Scheduler) failStalePending(ctx context.Context) {
	n, err := s.posts.FailStalePending(ctx, s.now().Add(-s.pendingLease), stalePendingMessage)
	if err != nil {
		s.logger.Error("滞留した配信中投稿の回収に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		s.logger.Warn("配信が完了しないまま滞留していた投稿をfailedにしました",
			slog.Int64("post_count", n),
			slog.Duration("lease", s.pendingLease),
		)
	}
}
