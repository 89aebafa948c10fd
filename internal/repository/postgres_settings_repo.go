package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/crosspost/internal/security"
)

// PostgresSettingsRepo はPostgreSQLを使用した設定値リポジトリ。
// 暗号化された値はcipherで復号して返す。
type PostgresSettingsRepo struct {
	db     *sql.DB
	cipher security.Cipher
	logger *slog.Logger
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB, cipher security.Cipher, logger *slog.Logger) *PostgresSettingsRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSettingsRepo{db: db, cipher: cipher, logger: logger}
}

// GetValue は平文の設定値を取得する。未設定の場合はnilを返す。
func (r *PostgresSettingsRepo) GetValue(ctx context.Context, key string) (*string, error) {
	value, _, err := r.get(ctx, key)
	return value, err
}

// SetValue は平文の設定値をUPSERTする。valueがnilの場合はキーを削除する。
func (r *PostgresSettingsRepo) SetValue(ctx context.Context, key string, value *string) error {
	if value == nil {
		return r.delete(ctx, key)
	}
	return r.upsert(ctx, key, *value, false)
}

// GetEncrypted は暗号化された設定値を復号して取得する。
// 復号に失敗した場合は警告ログを出力してnilを返す。
func (r *PostgresSettingsRepo) GetEncrypted(ctx context.Context, key string) (*string, error) {
	value, encrypted, err := r.get(ctx, key)
	if err != nil || value == nil {
		return nil, err
	}
	if !encrypted {
		return value, nil
	}

	plaintext, err := r.cipher.Decrypt(*value)
	if err != nil {
		r.logger.Warn("failed to decrypt setting",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return &plaintext, nil
}

// SetEncrypted は設定値を暗号化してUPSERTする。valueがnilの場合はキーを削除する。
func (r *PostgresSettingsRepo) SetEncrypted(ctx context.Context, key string, value *string) error {
	if value == nil {
		return r.delete(ctx, key)
	}
	ciphertext, err := r.cipher.Encrypt(*value)
	if err != nil {
		return fmt.Errorf("設定値の暗号化に失敗しました: %w", err)
	}
	return r.upsert(ctx, key, ciphertext, true)
}

func (r *PostgresSettingsRepo) get(ctx context.Context, key string) (*string, bool, error) {
	var value string
	var encrypted bool
	err := r.db.QueryRowContext(ctx,
		`SELECT value, encrypted FROM settings WHERE key = $1`,
		key,
	).Scan(&value, &encrypted)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("設定値の取得に失敗しました: %w", err)
	}
	return &value, encrypted, nil
}

func (r *PostgresSettingsRepo) upsert(ctx context.Context, key, value string, encrypted bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, encrypted, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key)
		 DO UPDATE SET value = EXCLUDED.value, encrypted = EXCLUDED.encrypted, updated_at = now()`,
		key, value, encrypted,
	)
	if err != nil {
		return fmt.Errorf("設定値の保存に失敗しました: %w", err)
	}
	return nil
}

func (r *PostgresSettingsRepo) delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = $1`, key); err != nil {
		return fmt.Errorf("設定値の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
