// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// keyPurpose は設定値暗号化用の鍵導出に使う用途ラベル。
// 同じシークレットから別用途の鍵を導出しても衝突しないようにする。
const keyPurpose = "crosspost/settings-encryption/v1"

// ErrCiphertextTooShort は暗号文がnonceより短い場合のエラー。
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Cipher は設定値の対称暗号化インターフェース。
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// SecretBox はXChaCha20-Poly1305による設定値の暗号化を提供する。
// 出力は base64(nonce || ciphertext) 形式。
type SecretBox struct {
	key []byte
}

// NewSecretBox はシークレットからHKDF-SHA256で256bit鍵を導出してSecretBoxを生成する。
func NewSecretBox(secret string) (*SecretBox, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is empty")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyPurpose)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return &SecretBox{key: key}, nil
}

// Encrypt は平文を暗号化しbase64文字列で返す。nonceは呼び出しごとにランダム生成する。
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt はEncryptの出力を復号する。改ざんや鍵違いの場合はエラーを返す。
func (b *SecretBox) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(data) < aead.NonceSize() {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// compile-time interface check
var _ Cipher = (*SecretBox)(nil)
