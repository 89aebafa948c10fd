// Package model はドメインモデルを定義する。
package model

import "time"

// Platform は投稿先の外部SNSを表す。
type Platform string

const (
	// PlatformTwitter はTwitter/X。
	PlatformTwitter Platform = "twitter"
	// PlatformThreads はThreads。
	PlatformThreads Platform = "threads"
	// PlatformLinkedIn はLinkedIn。
	PlatformLinkedIn Platform = "linkedin"
)

// PostStatus は投稿の状態を表す。
// 状態は単調ではなく、failedの投稿を再度publishedにすることができる。
type PostStatus string

const (
	// PostStatusDraft は下書き。
	PostStatusDraft PostStatus = "draft"
	// PostStatusScheduled は予約済み。
	PostStatusScheduled PostStatus = "scheduled"
	// PostStatusPending は配信処理中。
	PostStatusPending PostStatus = "pending"
	// PostStatusPublished は全プラットフォームへの配信が完了した状態。
	PostStatusPublished PostStatus = "published"
	// PostStatusCancelled は取り消された状態。
	PostStatusCancelled PostStatus = "cancelled"
	// PostStatusFailed は配信に失敗した状態。ErrorMessageが必ず設定される。
	PostStatusFailed PostStatus = "failed"
)

// Post はワークスペースが配信する論理的な投稿を表す。
type Post struct {
	ID              string
	WorkspaceID     string
	Content         string
	Platforms       []Platform // 配信順序を保持する
	Status          PostStatus
	ScheduledAt     *time.Time
	MediaURLs       []string
	Hashtags        []string
	Mentions        []string
	PlatformPostIDs map[Platform]string // キーはPlatformsの部分集合
	ErrorMessage    *string
	PublishedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPlatform はPlatformsに指定プラットフォームが含まれるかを返す。
func (p *Post) HasPlatform(platform Platform) bool {
	for _, pl := range p.Platforms {
		if pl == platform {
			return true
		}
	}
	return false
}

// PostPatch はPostの部分更新を表す。nilのフィールドは変更しない。
type PostPatch struct {
	Status          *PostStatus
	PlatformPostIDs map[Platform]string
	ErrorMessage    *string
	// ClearErrorMessage がtrueの場合はerror_messageをNULLにする。ErrorMessageより優先される。
	ClearErrorMessage bool
	PublishedAt       *time.Time
}
