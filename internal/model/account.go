// Package model はドメインモデルを定義する。
package model

import "time"

// Workspace はテナント境界を表す。現状は slug "default" の1件のみ。
type Workspace struct {
	ID        string
	Slug      string
	CreatedAt time.Time
}

// SocialAccount はワークスペースと外部プラットフォームのアカウントとのOAuth接続を表す。
// (workspace_id, platform, platform_user_id) で一意。トークンはこのレコードだけが保持する。
type SocialAccount struct {
	ID             string
	WorkspaceID    string
	Platform       Platform
	PlatformUserID string
	AccessToken    string
	RefreshToken   string // 空文字列は未保持
	TokenExpiresAt *time.Time
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NeedsReconnect は有効期限が設定されており、かつ (有効期限 - threshold) がnowを過ぎているかを返す。
func (a *SocialAccount) NeedsReconnect(threshold time.Duration, now time.Time) bool {
	if a.TokenExpiresAt == nil {
		return false
	}
	return now.After(a.TokenExpiresAt.Add(-threshold))
}

// HasRefreshToken はリフレッシュトークンを保持しているかを返す。
func (a *SocialAccount) HasRefreshToken() bool {
	return a.RefreshToken != ""
}

// Credential はアカウントの現在のアクセストークンを取り出す。
func (a *SocialAccount) Credential() AccessCredential {
	return AccessCredential{
		AccountID:    a.ID,
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		ExpiresAt:    a.TokenExpiresAt,
	}
}

// AccessCredential は1回のAPI呼び出しに使うトークンの不変な値。
// トークンリフレッシュは新しいAccessCredentialを返し、呼び出し側はそれを明示的に次の呼び出しへ渡す。
type AccessCredential struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}
