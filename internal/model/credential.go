// Package model はドメインモデルを定義する。
package model

// OAuthCredential はプロバイダーごとのOAuthクライアント資格情報。
// どちらのフィールドも空文字列になり得る（呼び出し側で環境変数の既定値へフォールバックする）。
type OAuthCredential struct {
	ClientID     string
	ClientSecret string
}

// MaskedCredential は画面表示用にマスクされた資格情報。
// シークレットの平文は含まない。
type MaskedCredential struct {
	HasClientID     bool
	HasClientSecret bool
	ClientIDPrefix  string
}
