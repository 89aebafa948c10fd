package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/crosspost/internal/model"
)

func TestPostgresSocialAccountRepo_ImplementsInterface(t *testing.T) {
	var _ SocialAccountRepository = (*PostgresSocialAccountRepo)(nil)
}

func TestPostgresWorkspaceRepo_ImplementsInterface(t *testing.T) {
	var _ WorkspaceRepository = (*PostgresWorkspaceRepo)(nil)
}

func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("empty string should be NULL")
	}
	if ns := nullString("x"); !ns.Valid || ns.String != "x" {
		t.Errorf("nullString(x) = %+v", ns)
	}
	if v := nullStringValue(nullString("")); v != "" {
		t.Errorf("nullStringValue = %q, want empty", v)
	}
}

// 同じ一意キーで保存するとレコードが増えずに上書きされることを検証
func TestPostgresSocialAccountRepo_Upsert(t *testing.T) {
	db := openTestDB(t)
	ws := createTestWorkspace(t, db)
	repo := NewPostgresSocialAccountRepo(db)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, &model.SocialAccount{
		WorkspaceID:    ws,
		Platform:       model.PlatformTwitter,
		PlatformUserID: "u1",
		AccessToken:    "at-1",
		Metadata:       map[string]any{"username": "alice"},
	})
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if first.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want empty", first.RefreshToken)
	}
	if first.Metadata["username"] != "alice" {
		t.Errorf("Metadata = %v", first.Metadata)
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	second, err := repo.Upsert(ctx, &model.SocialAccount{
		WorkspaceID:    ws,
		Platform:       model.PlatformTwitter,
		PlatformUserID: "u1",
		AccessToken:    "at-2",
		RefreshToken:   "rt-2",
		TokenExpiresAt: &expires,
	})
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("ID = %q, want %q (same row)", second.ID, first.ID)
	}
	if second.AccessToken != "at-2" || second.RefreshToken != "rt-2" {
		t.Errorf("tokens not overwritten: %+v", second)
	}
	if second.TokenExpiresAt == nil || !second.TokenExpiresAt.Equal(expires) {
		t.Errorf("TokenExpiresAt = %v, want %v", second.TokenExpiresAt, expires)
	}
}

func TestPostgresSocialAccountRepo_FindByWorkspaceAndPlatform(t *testing.T) {
	db := openTestDB(t)
	ws := createTestWorkspace(t, db)
	repo := NewPostgresSocialAccountRepo(db)
	ctx := context.Background()

	got, err := repo.FindByWorkspaceAndPlatform(ctx, ws, model.PlatformThreads)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}

	saved, err := repo.Upsert(ctx, &model.SocialAccount{
		WorkspaceID:    ws,
		Platform:       model.PlatformThreads,
		PlatformUserID: "th-1",
		AccessToken:    "at",
	})
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	got, err = repo.FindByWorkspaceAndPlatform(ctx, ws, model.PlatformThreads)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != saved.ID {
		t.Fatalf("got %+v, want account %s", got, saved.ID)
	}

	other, _ := repo.FindByWorkspaceAndPlatform(ctx, ws, model.PlatformTwitter)
	if other != nil {
		t.Error("twitter account should not be found")
	}
}

func TestPostgresSocialAccountRepo_UpdateTokensAndDelete(t *testing.T) {
	db := openTestDB(t)
	ws := createTestWorkspace(t, db)
	repo := NewPostgresSocialAccountRepo(db)
	ctx := context.Background()

	saved, err := repo.Upsert(ctx, &model.SocialAccount{
		WorkspaceID:    ws,
		Platform:       model.PlatformTwitter,
		PlatformUserID: "u1",
		AccessToken:    "old",
		RefreshToken:   "old-rt",
	})
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	expires := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Microsecond)
	err = repo.UpdateTokens(ctx, saved.ID, model.AccessCredential{
		AccountID:    saved.ID,
		AccessToken:  "new",
		RefreshToken: "new-rt",
		ExpiresAt:    &expires,
	})
	if err != nil {
		t.Fatalf("UpdateTokens error: %v", err)
	}

	got, _ := repo.FindByID(ctx, saved.ID)
	if got.AccessToken != "new" || got.RefreshToken != "new-rt" {
		t.Errorf("tokens = %q/%q, want new/new-rt", got.AccessToken, got.RefreshToken)
	}

	if err := repo.UpdateTokens(ctx, "00000000-0000-0000-0000-000000000000", model.AccessCredential{AccessToken: "x"}); err == nil {
		t.Error("expected error for unknown account")
	}

	if err := repo.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	got, _ = repo.FindByID(ctx, saved.ID)
	if got != nil {
		t.Error("expected account to be deleted")
	}
}

func TestPostgresWorkspaceRepo_FindBySlug(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresWorkspaceRepo(db)
	ctx := context.Background()

	ws, err := repo.FindBySlug(ctx, "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws == nil || ws.Slug != "default" {
		t.Fatalf("expected default workspace, got %+v", ws)
	}

	missing, err := repo.FindBySlug(ctx, "no-such-workspace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil, got %+v", missing)
	}
}
