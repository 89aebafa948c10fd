// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind は配信エラーの分類。
type ErrorKind string

// 定義済みエラー分類
const (
	ErrKindNotFound            ErrorKind = "NOT_FOUND"
	ErrKindUnsupportedPlatform ErrorKind = "UNSUPPORTED_PLATFORM"
	ErrKindConfiguration       ErrorKind = "CONFIGURATION_ERROR"
	ErrKindUpstream            ErrorKind = "UPSTREAM_ERROR"
	ErrKindReconnectRequired   ErrorKind = "RECONNECT_REQUIRED"
	ErrKindTimeout             ErrorKind = "TIMEOUT"
)

// PublishError は配信処理の失敗を表す。
// Messageは上位のAPI層でそのままユーザーに表示される。
type PublishError struct {
	Kind     ErrorKind
	Platform Platform // プラットフォームに依存しないエラーでは空
	Message  string
	Err      error // 原因となったエラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *PublishError) Error() string {
	return e.Message
}

// Unwrap は原因エラーを返す。
func (e *PublishError) Unwrap() error {
	return e.Err
}

// ErrorKindOf はerrチェーン中のPublishErrorの分類を返す。PublishErrorでなければ空文字列を返す。
func ErrorKindOf(err error) ErrorKind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsNotFound はerrがNOT_FOUNDに分類されるかを返す。
func IsNotFound(err error) bool {
	return ErrorKindOf(err) == ErrKindNotFound
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *PublishError {
	return &PublishError{
		Kind:    ErrKindNotFound,
		Message: fmt.Sprintf("Post not found: %s", postID),
	}
}

// NewAccountNotConnectedError はワークスペースに接続済みアカウントがない場合のエラーを生成する。
func NewAccountNotConnectedError(platform Platform) *PublishError {
	return &PublishError{
		Kind:     ErrKindNotFound,
		Platform: platform,
		Message:  fmt.Sprintf("No connected %s account found", platform),
	}
}

// NewUnsupportedPlatformError は未対応プラットフォームへの配信エラーを生成する。
func NewUnsupportedPlatformError(platform Platform) *PublishError {
	return &PublishError{
		Kind:     ErrKindUnsupportedPlatform,
		Platform: platform,
		Message:  fmt.Sprintf("Publishing to %s is not yet supported", platform),
	}
}

// NewConfigurationError はOAuthクライアント資格情報の不足エラーを生成する。
func NewConfigurationError(platform Platform, missing string) *PublishError {
	return &PublishError{
		Kind:     ErrKindConfiguration,
		Platform: platform,
		Message:  fmt.Sprintf("%s OAuth %s is not configured", platform, missing),
	}
}

// NewUpstreamError はプラットフォームAPIの異常応答エラーを生成する。
func NewUpstreamError(platform Platform, message string, cause error) *PublishError {
	return &PublishError{
		Kind:     ErrKindUpstream,
		Platform: platform,
		Message:  fmt.Sprintf("%s API error: %s", platform, message),
		Err:      cause,
	}
}

// NewReconnectRequiredError はトークン期限切れかつリフレッシュ不能な場合のエラーを生成する。
func NewReconnectRequiredError(platform Platform) *PublishError {
	return &PublishError{
		Kind:     ErrKindReconnectRequired,
		Platform: platform,
		Message:  fmt.Sprintf("%s access token has expired. Please reconnect your %s account", platform, platform),
	}
}

// NewTimeoutError は非同期処理が規定回数内に完了しなかった場合のエラーを生成する。
func NewTimeoutError(platform Platform, message string) *PublishError {
	return &PublishError{
		Kind:     ErrKindTimeout,
		Platform: platform,
		Message:  fmt.Sprintf("%s timeout: %s", platform, message),
	}
}
