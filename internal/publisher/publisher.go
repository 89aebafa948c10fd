// Package publisher はプラットフォームごとの投稿配信アダプターを提供する。
// 各アダプターは配信に加えて、削除・タイムライン取得・インサイト取得を任意で実装する。
package publisher

import (
	"context"
	"sort"

	"github.com/hitoshi/crosspost/internal/model"
)

// Publisher はプラットフォームへの投稿配信インターフェース。
type Publisher interface {
	// Platform は担当するプラットフォームを返す。
	Platform() model.Platform

	// Publish は投稿をプラットフォームへ配信し、プラットフォーム上の投稿IDを返す。
	// 失敗時は*model.PublishErrorを返す。
	Publish(ctx context.Context, post *model.Post, account *model.SocialAccount) (string, error)
}

// Deleter はプラットフォーム上の投稿削除に対応するPublisherが実装する。
type Deleter interface {
	Delete(ctx context.Context, platformPostID string, account *model.SocialAccount) error
}

// TimelineFetcher はアカウントのタイムライン取得に対応するPublisherが実装する。
// cursorが空の場合は最新ページを返す。
type TimelineFetcher interface {
	FetchTimeline(ctx context.Context, account *model.SocialAccount, cursor string, limit int) (*model.TimelinePage, error)
}

// InsightsFetcher は投稿メトリクスの取得に対応するPublisherが実装する。
type InsightsFetcher interface {
	FetchInsights(ctx context.Context, platformPostID string, account *model.SocialAccount) (*model.PostInsights, error)
}

// Registry はプラットフォームからPublisherへの対応表。起動時に一度だけ構築する。
type Registry struct {
	publishers map[model.Platform]Publisher
}

// NewRegistry は指定したPublisherでRegistryを構築する。
// 同じプラットフォームが複数ある場合は後のものが優先される。
func NewRegistry(publishers ...Publisher) *Registry {
	m := make(map[model.Platform]Publisher, len(publishers))
	for _, p := range publishers {
		m[p.Platform()] = p
	}
	return &Registry{publishers: m}
}

// Get はプラットフォームに対応するPublisherを返す。
func (r *Registry) Get(platform model.Platform) (Publisher, bool) {
	p, ok := r.publishers[platform]
	return p, ok
}

// Platforms は登録済みのプラットフォームを名前順で返す。
func (r *Registry) Platforms() []model.Platform {
	platforms := make([]model.Platform, 0, len(r.publishers))
	for p := range r.publishers {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}
