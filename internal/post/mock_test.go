package post

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/hitoshi/crosspost/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

// memPostRepo はメモリ上の投稿リポジトリ。Updateはパッチを実際に適用する。
type memPostRepo struct {
	mu        sync.Mutex
	posts     map[string]*model.Post
	findErr   error
	updateErr error
	deleteErr error
	updates   []model.PostPatch
	deleted   []string
}

func newMemPostRepo(posts ...*model.Post) *memPostRepo {
	r := &memPostRepo{posts: map[string]*model.Post{}}
	for _, p := range posts {
		r.posts[p.ID] = p
	}
	return r
}

func (r *memPostRepo) FindByID(_ context.Context, id string) (*model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.PlatformPostIDs = maps.Clone(p.PlatformPostIDs)
	return &cp, nil
}

func (r *memPostRepo) Create(_ context.Context, p *model.Post) (*model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts[p.ID] = p
	return p, nil
}

func (r *memPostRepo) Update(_ context.Context, id string, patch model.PostPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, patch)
	if r.updateErr != nil {
		return r.updateErr
	}
	p, ok := r.posts[id]
	if !ok {
		return errors.New("post not found")
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.PlatformPostIDs != nil {
		p.PlatformPostIDs = maps.Clone(patch.PlatformPostIDs)
	}
	if patch.ClearErrorMessage {
		p.ErrorMessage = nil
	} else if patch.ErrorMessage != nil {
		msg := *patch.ErrorMessage
		p.ErrorMessage = &msg
	}
	if patch.PublishedAt != nil {
		at := *patch.PublishedAt
		p.PublishedAt = &at
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memPostRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deleted = append(r.deleted, id)
	delete(r.posts, id)
	return nil
}

func (r *memPostRepo) ClaimDueScheduled(context.Context, time.Time, int) ([]*model.Post, error) {
	return nil, nil
}

func (r *memPostRepo) FailStalePending(context.Context, time.Time, string) (int64, error) {
	return 0, nil
}

func (r *memPostRepo) get(id string) *model.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posts[id]
}

// mockAccountFinder はAccountFinderのモック。
type mockAccountFinder struct {
	findFunc func(ctx context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error)
}

func (m *mockAccountFinder) FindByWorkspaceAndPlatform(ctx context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, workspaceID, platform)
	}
	return &model.SocialAccount{ID: "acc-" + string(platform), WorkspaceID: workspaceID, Platform: platform}, nil
}

// accountsFor は指定したプラットフォームだけ接続済みのAccountFinderを返す。
func accountsFor(platforms ...model.Platform) *mockAccountFinder {
	connected := map[model.Platform]bool{}
	for _, p := range platforms {
		connected[p] = true
	}
	return &mockAccountFinder{
		findFunc: func(_ context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error) {
			if !connected[platform] {
				return nil, nil
			}
			return &model.SocialAccount{ID: "acc-" + string(platform), WorkspaceID: workspaceID, Platform: platform}, nil
		},
	}
}

// mockPublisher は呼び出し回数を記録するPublisher。
type mockPublisher struct {
	platform    model.Platform
	publishFunc func(ctx context.Context, post *model.Post, account *model.SocialAccount) (string, error)

	mu           sync.Mutex
	publishCalls int
}

func (m *mockPublisher) Platform() model.Platform { return m.platform }

func (m *mockPublisher) Publish(ctx context.Context, post *model.Post, account *model.SocialAccount) (string, error) {
	m.mu.Lock()
	m.publishCalls++
	m.mu.Unlock()
	if m.publishFunc != nil {
		return m.publishFunc(ctx, post, account)
	}
	return string(m.platform) + "-id", nil
}

func (m *mockPublisher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishCalls
}

// mockFullPublisher は削除・タイムライン・インサイトにも対応するPublisher。
type mockFullPublisher struct {
	mockPublisher
	deleteFunc   func(ctx context.Context, platformPostID string, account *model.SocialAccount) error
	timelineFunc func(ctx context.Context, account *model.SocialAccount, cursor string, limit int) (*model.TimelinePage, error)
	insightsFunc func(ctx context.Context, platformPostID string, account *model.SocialAccount) (*model.PostInsights, error)
	deleted      []string
}

func (m *mockFullPublisher) Delete(ctx context.Context, platformPostID string, account *model.SocialAccount) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, platformPostID)
	m.mu.Unlock()
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, platformPostID, account)
	}
	return nil
}

func (m *mockFullPublisher) FetchTimeline(ctx context.Context, account *model.SocialAccount, cursor string, limit int) (*model.TimelinePage, error) {
	if m.timelineFunc != nil {
		return m.timelineFunc(ctx, account, cursor, limit)
	}
	return &model.TimelinePage{}, nil
}

func (m *mockFullPublisher) FetchInsights(ctx context.Context, platformPostID string, account *model.SocialAccount) (*model.PostInsights, error) {
	if m.insightsFunc != nil {
		return m.insightsFunc(ctx, platformPostID, account)
	}
	return &model.PostInsights{Platform: m.platform, PlatformPostID: platformPostID, Metrics: map[string]int64{}}, nil
}

// mockMediaStore はMediaStoreのモック。
type mockMediaStore struct {
	deleteFunc func(ctx context.Context, mediaURL string) error
	deleted    []string
}

func (m *mockMediaStore) DeleteByURL(ctx context.Context, mediaURL string) error {
	m.deleted = append(m.deleted, mediaURL)
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, mediaURL)
	}
	return nil
}
