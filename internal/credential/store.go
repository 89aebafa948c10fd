// Package credential はプロバイダーごとのOAuthクライアント資格情報を管理する。
package credential

import (
	"context"
	"fmt"

	"github.com/hitoshi/crosspost/internal/model"
	"github.com/hitoshi/crosspost/internal/repository"
)

// maskPrefixLen はマスク表示で露出するクライアントIDの最大文字数。
const maskPrefixLen = 4

// Store は設定リポジトリ上にOAuthクライアント資格情報を保存する。
// クライアントIDは平文、クライアントシークレットは暗号化して保存する。
type Store struct {
	settings repository.SettingsRepository
}

// NewStore はStoreを生成する。
func NewStore(settings repository.SettingsRepository) *Store {
	return &Store{settings: settings}
}

func clientIDKey(provider model.Platform) string {
	return fmt.Sprintf("oauth_%s_client_id", provider)
}

func clientSecretKey(provider model.Platform) string {
	return fmt.Sprintf("oauth_%s_client_secret", provider)
}

// Get は保存済みの資格情報を返す。IDとシークレットの両方が未設定の場合のみnilを返す。
// 片方だけ設定されている場合、未設定側は空文字列になる。
func (s *Store) Get(ctx context.Context, provider model.Platform) (*model.OAuthCredential, error) {
	id, err := s.settings.GetValue(ctx, clientIDKey(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to get client id: %w", err)
	}
	secret, err := s.settings.GetEncrypted(ctx, clientSecretKey(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to get client secret: %w", err)
	}

	if id == nil && secret == nil {
		return nil, nil
	}

	cred := &model.OAuthCredential{}
	if id != nil {
		cred.ClientID = *id
	}
	if secret != nil {
		cred.ClientSecret = *secret
	}
	return cred, nil
}

// Set は資格情報を保存する。空文字列を渡したフィールドは削除される。
func (s *Store) Set(ctx context.Context, provider model.Platform, clientID, clientSecret string) error {
	if err := s.settings.SetValue(ctx, clientIDKey(provider), optional(clientID)); err != nil {
		return fmt.Errorf("failed to set client id: %w", err)
	}
	if err := s.settings.SetEncrypted(ctx, clientSecretKey(provider), optional(clientSecret)); err != nil {
		return fmt.Errorf("failed to set client secret: %w", err)
	}
	return nil
}

// GetMasked は表示用にマスクした資格情報を返す。
// シークレットは有無のみ、IDは先頭最大4文字と "..." のみを返す。
func (s *Store) GetMasked(ctx context.Context, provider model.Platform) (*model.MaskedCredential, error) {
	cred, err := s.Get(ctx, provider)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return &model.MaskedCredential{}, nil
	}

	return &model.MaskedCredential{
		HasClientID:     cred.ClientID != "",
		HasClientSecret: cred.ClientSecret != "",
		ClientIDPrefix:  maskClientID(cred.ClientID),
	}, nil
}

// Resolve は保存済みの資格情報をフィールド単位で環境変数の既定値とマージする。
// 保存値が優先され、マージ後もIDまたはシークレットが空の場合はCONFIGURATION_ERRORを返す。
func (s *Store) Resolve(ctx context.Context, provider model.Platform, fallback model.OAuthCredential) (model.OAuthCredential, error) {
	stored, err := s.Get(ctx, provider)
	if err != nil {
		return model.OAuthCredential{}, err
	}

	resolved := fallback
	if stored != nil {
		if stored.ClientID != "" {
			resolved.ClientID = stored.ClientID
		}
		if stored.ClientSecret != "" {
			resolved.ClientSecret = stored.ClientSecret
		}
	}

	if resolved.ClientID == "" {
		return model.OAuthCredential{}, model.NewConfigurationError(provider, "client ID")
	}
	if resolved.ClientSecret == "" {
		return model.OAuthCredential{}, model.NewConfigurationError(provider, "client secret")
	}
	return resolved, nil
}

// maskClientID はクライアントIDの先頭だけを残してマスクする。
// 4文字以下のIDは全体が露出しないよう接頭辞を返さない。
func maskClientID(id string) string {
	runes := []rune(id)
	if len(runes) <= maskPrefixLen {
		if len(runes) == 0 {
			return ""
		}
		return "..."
	}
	return string(runes[:maskPrefixLen]) + "..."
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
