// Package post は投稿の配信・削除・インサイト取得のオーケストレーションを提供する。
package post

import (
	"context"
	"log/slog"

	"github.com/hitoshi/crosspost/internal/model"
)

// AccountFinder はワークスペースに接続済みのSNSアカウントを検索する。
type AccountFinder interface {
	FindByWorkspaceAndPlatform(ctx context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error)
}

// MediaStore はメディアファイルの削除を行う。
type MediaStore interface {
	DeleteByURL(ctx context.Context, mediaURL string) error
}

// loadPost は投稿を取得する。存在しない、または別ワークスペースの投稿はnilを返す。
func loadPost(ctx context.Context, find func(context.Context, string) (*model.Post, error), workspaceID, postID string) (*model.Post, error) {
	p, err := find(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.WorkspaceID != workspaceID {
		return nil, nil
	}
	return p, nil
}

func platformAttr(platform model.Platform) slog.Attr {
	return slog.String("platform", string(platform))
}
