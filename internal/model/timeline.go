// Package model はドメインモデルを定義する。
package model

import "time"

// TimelineItem はプラットフォーム上の投稿1件を表す。
type TimelineItem struct {
	ID        string
	Text      string
	Permalink string
	MediaType string
	Timestamp time.Time
}

// TimelinePage はカーソルベースのタイムライン取得結果。新しい順に並ぶ。
type TimelinePage struct {
	Items      []TimelineItem
	NextCursor string
	HasMore    bool
}

// PostInsights はプラットフォームから取得した生のメトリクス。
type PostInsights struct {
	Platform       Platform
	PlatformPostID string
	Metrics        map[string]int64
}
