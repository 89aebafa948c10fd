package account

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/crosspost/internal/model"
)

// mockSocialAccountRepo はSocialAccountRepositoryのモック。
type mockSocialAccountRepo struct {
	findByIDFunc     func(ctx context.Context, id string) (*model.SocialAccount, error)
	findFunc         func(ctx context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error)
	upsertFunc       func(ctx context.Context, account *model.SocialAccount) (*model.SocialAccount, error)
	updateTokensFunc func(ctx context.Context, id string, credential model.AccessCredential) error
	deleteFunc       func(ctx context.Context, id string) error
}

func (m *mockSocialAccountRepo) FindByID(ctx context.Context, id string) (*model.SocialAccount, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockSocialAccountRepo) FindByWorkspaceAndPlatform(ctx context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, workspaceID, platform)
	}
	return nil, nil
}

func (m *mockSocialAccountRepo) Upsert(ctx context.Context, account *model.SocialAccount) (*model.SocialAccount, error) {
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, account)
	}
	return account, nil
}

func (m *mockSocialAccountRepo) UpdateTokens(ctx context.Context, id string, credential model.AccessCredential) error {
	if m.updateTokensFunc != nil {
		return m.updateTokensFunc(ctx, id, credential)
	}
	return nil
}

func (m *mockSocialAccountRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestRegistry_FindByWorkspaceAndPlatform(t *testing.T) {
	want := &model.SocialAccount{ID: "acc-1", Platform: model.PlatformThreads}
	repo := &mockSocialAccountRepo{
		findFunc: func(_ context.Context, workspaceID string, platform model.Platform) (*model.SocialAccount, error) {
			if workspaceID != "ws-1" || platform != model.PlatformThreads {
				return nil, nil
			}
			return want, nil
		},
	}
	var buf bytes.Buffer
	r := NewRegistry(repo, 0, newTestLogger(&buf))

	got, err := r.FindByWorkspaceAndPlatform(context.Background(), "ws-1", model.PlatformThreads)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	got, err = r.FindByWorkspaceAndPlatform(context.Background(), "ws-2", model.PlatformThreads)
	if err != nil || got != nil {
		t.Errorf("got %+v, %v; want nil, nil", got, err)
	}
}

func TestRegistry_FindByWorkspaceAndPlatform_Error(t *testing.T) {
	repo := &mockSocialAccountRepo{
		findFunc: func(context.Context, string, model.Platform) (*model.SocialAccount, error) {
			return nil, errors.New("db down")
		},
	}
	var buf bytes.Buffer
	r := NewRegistry(repo, 0, newTestLogger(&buf))

	if _, err := r.FindByWorkspaceAndPlatform(context.Background(), "ws", model.PlatformTwitter); err == nil {
		t.Fatal("expected error")
	}
}

func TestRegistry_FindByID(t *testing.T) {
	stored := &model.SocialAccount{ID: "acc-1", AccessToken: "fresh"}
	repo := &mockSocialAccountRepo{
		findByIDFunc: func(_ context.Context, id string) (*model.SocialAccount, error) {
			switch id {
			case "acc-1":
				return stored, nil
			case "broken":
				return nil, errors.New("db down")
			}
			return nil, nil
		},
	}
	var buf bytes.Buffer
	r := NewRegistry(repo, 0, newTestLogger(&buf))
	ctx := context.Background()

	if got, err := r.FindByID(ctx, "acc-1"); err != nil || got != stored {
		t.Errorf("FindByID(acc-1) = %+v, %v", got, err)
	}
	if got, err := r.FindByID(ctx, "missing"); err != nil || got != nil {
		t.Errorf("FindByID(missing) = %+v, %v; want nil, nil", got, err)
	}
	if _, err := r.FindByID(ctx, "broken"); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("FindByID(broken) err = %v", err)
	}
}

// 同一アイデンティティへの再接続が同じ一意キーでUPSERTされることを検証
func TestRegistry_CreateOrUpdate(t *testing.T) {
	var saved []*model.SocialAccount
	repo := &mockSocialAccountRepo{
		upsertFunc: func(_ context.Context, a *model.SocialAccount) (*model.SocialAccount, error) {
			saved = append(saved, a)
			out := *a
			out.ID = "acc-" + a.PlatformUserID
			return &out, nil
		},
	}
	var buf bytes.Buffer
	r := NewRegistry(repo, 0, newTestLogger(&buf))
	ctx := context.Background()

	for _, token := range []string{"at-1", "at-2"} {
		acc, err := r.CreateOrUpdate(ctx, ConnectParams{
			WorkspaceID:    "ws-1",
			Platform:       model.PlatformTwitter,
			PlatformUserID: "u1",
			AccessToken:    token,
			RefreshToken:   "rt",
		})
		if err != nil {
			t.Fatalf("CreateOrUpdate error: %v", err)
		}
		if acc.ID != "acc-u1" {
			t.Errorf("ID = %q, want acc-u1", acc.ID)
		}
	}

	if len(saved) != 2 || saved[1].AccessToken != "at-2" {
		t.Errorf("unexpected upserts: %+v", saved)
	}
	if !strings.Contains(buf.String(), "social account connected") {
		t.Errorf("expected connect log, got %s", buf.String())
	}
}

func TestRegistry_CreateOrUpdate_Validation(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(&mockSocialAccountRepo{}, 0, newTestLogger(&buf))

	tests := []struct {
		name   string
		params ConnectParams
	}{
		{name: "missing workspace", params: ConnectParams{Platform: model.PlatformTwitter, PlatformUserID: "u", AccessToken: "t"}},
		{name: "missing user", params: ConnectParams{WorkspaceID: "ws", Platform: model.PlatformTwitter, AccessToken: "t"}},
		{name: "missing token", params: ConnectParams{WorkspaceID: "ws", Platform: model.PlatformTwitter, PlatformUserID: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.CreateOrUpdate(context.Background(), tt.params); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRegistry_UpdateTokens(t *testing.T) {
	var gotID string
	var gotCred model.AccessCredential
	repo := &mockSocialAccountRepo{
		updateTokensFunc: func(_ context.Context, id string, c model.AccessCredential) error {
			gotID = id
			gotCred = c
			return nil
		},
	}
	var buf bytes.Buffer
	r := NewRegistry(repo, 0, newTestLogger(&buf))

	exp := time.Now().Add(time.Hour)
	cred := model.AccessCredential{AccountID: "acc-1", AccessToken: "new", RefreshToken: "rt", ExpiresAt: &exp}
	if err := r.UpdateTokens(context.Background(), cred); err != nil {
		t.Fatalf("UpdateTokens error: %v", err)
	}
	if gotID != "acc-1" || gotCred.AccessToken != "new" {
		t.Errorf("repo called with %q %+v", gotID, gotCred)
	}
	if strings.Contains(buf.String(), `"new"`) {
		t.Errorf("token must not be logged: %s", buf.String())
	}

	if err := r.UpdateTokens(context.Background(), model.AccessCredential{AccessToken: "x"}); err == nil {
		t.Error("expected error for missing account id")
	}
}

func TestRegistry_Delete(t *testing.T) {
	var deleted string
	repo := &mockSocialAccountRepo{
		deleteFunc: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	var buf bytes.Buffer
	r := NewRegistry(repo, 0, newTestLogger(&buf))

	if err := r.Delete(context.Background(), "acc-9"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if deleted != "acc-9" {
		t.Errorf("deleted = %q, want acc-9", deleted)
	}
}

func TestRegistry_NeedsReconnect(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	r := NewRegistry(&mockSocialAccountRepo{}, 5*time.Minute, newTestLogger(&buf))
	r.now = func() time.Time { return now }

	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name    string
		expires *time.Time
		want    bool
	}{
		{name: "no expiry", expires: nil, want: false},
		{name: "far future", expires: at(time.Hour), want: false},
		{name: "within threshold", expires: at(3 * time.Minute), want: true},
		{name: "already expired", expires: at(-time.Minute), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := &model.SocialAccount{TokenExpiresAt: tt.expires}
			if got := r.NeedsReconnect(acc); got != tt.want {
				t.Errorf("NeedsReconnect = %v, want %v", got, tt.want)
			}
		})
	}
}
