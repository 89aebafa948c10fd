// Package storage はアップロード済みメディアファイルのローカルストレージ操作を提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMarker は公開URL中でストレージ上の相対パスの開始位置を示す区切り。
const DefaultMarker = "/storage/"

// ErrNotLocalMedia はURLがローカルストレージを指していない場合のエラー。
var ErrNotLocalMedia = errors.New("media url does not reference local storage")

// LocalStore はディレクトリ配下にメディアファイルを保持する。
type LocalStore struct {
	dir    string
	marker string
	logger *slog.Logger
}

// NewLocalStore はLocalStoreを生成する。markerが空の場合はDefaultMarkerを使う。
func NewLocalStore(dir, marker string, logger *slog.Logger) *LocalStore {
	if marker == "" {
		marker = DefaultMarker
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{dir: dir, marker: marker, logger: logger}
}

// PathForURL はメディアURLをストレージ上のファイルパスに変換する。
// URL中のマーカーまでを取り除いた残りをストレージディレクトリからの相対パスとして扱う。
func (s *LocalStore) PathForURL(mediaURL string) (string, error) {
	idx := strings.Index(mediaURL, s.marker)
	if idx < 0 {
		return "", ErrNotLocalMedia
	}
	rel := mediaURL[idx+len(s.marker):]
	if i := strings.IndexAny(rel, "?#"); i >= 0 {
		rel = rel[:i]
	}
	if rel == "" {
		return "", ErrNotLocalMedia
	}

	root := filepath.Clean(s.dir)
	full := filepath.Join(root, filepath.FromSlash(rel))
	inside, err := filepath.Rel(root, full)
	if err != nil || inside == "." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) || inside == ".." {
		return "", fmt.Errorf("media path escapes storage directory: %s", rel)
	}
	return full, nil
}

// DeleteByURL はURLが指すメディアファイルを削除する。既に存在しない場合は成功とみなす。
func (s *LocalStore) DeleteByURL(ctx context.Context, mediaURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.PathForURL(mediaURL)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("media file already removed",
				slog.String("path", path),
			)
			return nil
		}
		return fmt.Errorf("failed to remove media file: %w", err)
	}

	s.logger.Info("media file removed",
		slog.String("path", path),
	)
	return nil
}
