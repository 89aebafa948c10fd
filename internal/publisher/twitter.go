package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/crosspost/internal/metrics"
	"github.com/hitoshi/crosspost/internal/model"
)

const defaultTwitterBaseURL = "https://api.twitter.com"

// CredentialResolver はOAuthクライアント資格情報を解決する。
// 保存済みの値をフィールド単位で優先し、不足分はfallbackで補う。
type CredentialResolver interface {
	Resolve(ctx context.Context, provider model.Platform, fallback model.OAuthCredential) (model.OAuthCredential, error)
}

// TokenStore はトークンの期限判定とリフレッシュ結果の保存を担う。
type TokenStore interface {
	// FindByID は保存済みの最新のアカウントを返す。存在しない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SocialAccount, error)
	NeedsReconnect(account *model.SocialAccount) bool
	UpdateTokens(ctx context.Context, credential model.AccessCredential) error
}

// TwitterConfig はTwitterパブリッシャーの設定。
type TwitterConfig struct {
	// テスト用にオーバーライド可能なURL
	BaseURL string
	// 環境変数で与えられるOAuthクライアント資格情報の既定値
	ClientID     string
	ClientSecret string
	Client       ClientConfig
}

// TwitterPublisher はTwitter API v2への配信を行う。
// API呼び出しの前にトークン期限を確認し、必要であればリフレッシュする。
type TwitterPublisher struct {
	config      TwitterConfig
	client      *apiClient
	credentials CredentialResolver
	tokens      TokenStore
	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
}

// NewTwitterPublisher はTwitterPublisherを生成する。
func NewTwitterPublisher(
	config TwitterConfig,
	credentials CredentialResolver,
	tokens TokenStore,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *TwitterPublisher {
	if config.BaseURL == "" {
		config.BaseURL = defaultTwitterBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TwitterPublisher{
		config:      config,
		client:      newAPIClient(model.PlatformTwitter, config.Client, m, logger),
		credentials: credentials,
		tokens:      tokens,
		locks:       make(map[string]chan struct{}),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Platform はmodel.PlatformTwitterを返す。
func (p *TwitterPublisher) Platform() model.Platform {
	return model.PlatformTwitter
}

// twitterErrorBody はAPI v2のエラーレスポンス。
type twitterErrorBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type twitterTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type twitterTweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Publish は有効なアクセストークンを用意してからツイートを投稿する。
func (p *TwitterPublisher) Publish(ctx context.Context, post *model.Post, account *model.SocialAccount) (string, error) {
	cred, err := p.ensureFreshCredential(ctx, account)
	if err != nil {
		return "", err
	}

	req, err := newJSONRequest(ctx, http.MethodPost, p.config.BaseURL+"/2/tweets", map[string]string{
		"text": BuildText(post),
	})
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := p.client.do(req)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", p.upstreamError(resp, "failed to post tweet")
	}

	var body twitterTweetResponse
	if err := p.client.decode(resp, &body); err != nil {
		return "", err
	}
	if body.Data.ID == "" {
		return "", model.NewUpstreamError(model.PlatformTwitter, "no tweet id returned", nil)
	}

	p.logger.Info("tweet published",
		slog.String("post_id", post.ID),
		slog.String("platform_post_id", body.Data.ID),
	)
	return body.Data.ID, nil
}

// Delete はツイートを削除する。投稿時と同じくトークン期限を事前に確認する。
func (p *TwitterPublisher) Delete(ctx context.Context, platformPostID string, account *model.SocialAccount) error {
	cred, err := p.ensureFreshCredential(ctx, account)
	if err != nil {
		return err
	}

	req, err := newJSONRequest(ctx, http.MethodDelete, p.config.BaseURL+"/2/tweets/"+url.PathEscape(platformPostID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := p.client.do(req)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return p.upstreamError(resp, "failed to delete tweet")
	}
	return nil
}

type twitterTimelineResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

// FetchTimeline はアカウントのツイートを新しい順に1ページ取得する。
func (p *TwitterPublisher) FetchTimeline(ctx context.Context, account *model.SocialAccount, cursor string, limit int) (*model.TimelinePage, error) {
	cred, err := p.ensureFreshCredential(ctx, account)
	if err != nil {
		return nil, err
	}

	q := url.Values{"tweet.fields": {"created_at"}}
	if limit > 0 {
		// API v2は5〜100件のみ受け付ける
		q.Set("max_results", strconv.Itoa(min(max(limit, 5), 100)))
	}
	if cursor != "" {
		q.Set("pagination_token", cursor)
	}

	req, err := newJSONRequest(ctx, http.MethodGet,
		p.config.BaseURL+"/2/users/"+url.PathEscape(account.PlatformUserID)+"/tweets?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := p.client.do(req)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, p.upstreamError(resp, "failed to fetch timeline")
	}

	var body twitterTimelineResponse
	if err := p.client.decode(resp, &body); err != nil {
		return nil, err
	}

	page := &model.TimelinePage{
		Items:      make([]model.TimelineItem, 0, len(body.Data)),
		NextCursor: body.Meta.NextToken,
		HasMore:    body.Meta.NextToken != "",
	}
	for _, d := range body.Data {
		ts, err := time.Parse(time.RFC3339, d.CreatedAt)
		if err != nil {
			return nil, model.NewUpstreamError(model.PlatformTwitter, "malformed created_at: "+d.CreatedAt, err)
		}
		page.Items = append(page.Items, model.TimelineItem{
			ID:        d.ID,
			Text:      d.Text,
			Permalink: fmt.Sprintf("https://x.com/i/web/status/%s", d.ID),
			MediaType: "TEXT",
			Timestamp: ts,
		})
	}
	return page, nil
}

type twitterMetricsResponse struct {
	Data struct {
		ID            string           `json:"id"`
		PublicMetrics map[string]int64 `json:"public_metrics"`
	} `json:"data"`
}

// FetchInsights はツイートの公開メトリクスを取得する。
func (p *TwitterPublisher) FetchInsights(ctx context.Context, platformPostID string, account *model.SocialAccount) (*model.PostInsights, error) {
	cred, err := p.ensureFreshCredential(ctx, account)
	if err != nil {
		return nil, err
	}

	q := url.Values{"tweet.fields": {"public_metrics"}}
	req, err := newJSONRequest(ctx, http.MethodGet,
		p.config.BaseURL+"/2/tweets/"+url.PathEscape(platformPostID)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := p.client.do(req)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, p.upstreamError(resp, "failed to fetch tweet metrics")
	}

	var body twitterMetricsResponse
	if err := p.client.decode(resp, &body); err != nil {
		return nil, err
	}

	metricsMap := body.Data.PublicMetrics
	if metricsMap == nil {
		metricsMap = map[string]int64{}
	}
	return &model.PostInsights{
		Platform:       model.PlatformTwitter,
		PlatformPostID: platformPostID,
		Metrics:        metricsMap,
	}, nil
}

// ensureFreshCredential はAPI呼び出しに使うアクセストークンを返す。
// 期限切れ間近ならリフレッシュし、その結果を新しい値として返す。accountは変更しない。
//
// リフレッシュはアカウント単位で直列化する。ロック取得後に保存済みの行を読み直し、
// 先行する呼び出しがすでにリフレッシュしていればその資格情報をそのまま使う。
func (p *TwitterPublisher) ensureFreshCredential(ctx context.Context, account *model.SocialAccount) (model.AccessCredential, error) {
	if !p.tokens.NeedsReconnect(account) {
		return account.Credential(), nil
	}

	unlock, err := p.lockAccount(ctx, account.ID)
	if err != nil {
		return model.AccessCredential{}, contextError(model.PlatformTwitter, "waiting for token refresh", err)
	}
	defer unlock()

	current, err := p.tokens.FindByID(ctx, account.ID)
	if err != nil {
		return model.AccessCredential{}, err
	}
	if current == nil {
		current = account
	}
	if !p.tokens.NeedsReconnect(current) {
		return current.Credential(), nil
	}
	if !current.HasRefreshToken() {
		return model.AccessCredential{}, model.NewReconnectRequiredError(model.PlatformTwitter)
	}

	// リフレッシュと保存は呼び出し元のキャンセルを引き継がない（HTTPクライアントのタイムアウトのみ）
	cred, err := p.refresh(context.WithoutCancel(ctx), current)
	if err != nil {
		p.metrics.RecordTokenRefresh(string(model.PlatformTwitter), metrics.ResultFailure)
		return model.AccessCredential{}, err
	}
	p.metrics.RecordTokenRefresh(string(model.PlatformTwitter), metrics.ResultSuccess)
	return cred, nil
}

// lockAccount はアカウントごとのロックを取得し、解放関数を返す。
// 待機中にctxが終了した場合はctx.Err()を返す。
func (p *TwitterPublisher) lockAccount(ctx context.Context, accountID string) (func(), error) {
	p.locksMu.Lock()
	lock, ok := p.locks[accountID]
	if !ok {
		lock = make(chan struct{}, 1)
		p.locks[accountID] = lock
	}
	p.locksMu.Unlock()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh はリフレッシュトークンで新しいアクセストークンを取得し、保存する。
func (p *TwitterPublisher) refresh(ctx context.Context, account *model.SocialAccount) (model.AccessCredential, error) {
	client, err := p.credentials.Resolve(ctx, model.PlatformTwitter, model.OAuthCredential{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
	})
	if err != nil {
		return model.AccessCredential{}, err
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {account.RefreshToken},
		"client_id":     {client.ClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/2/oauth2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return model.AccessCredential{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(client.ClientID, client.ClientSecret)

	resp, err := p.client.do(req)
	if err != nil {
		return model.AccessCredential{}, err
	}
	if !resp.ok() {
		return model.AccessCredential{}, p.upstreamError(resp, "failed to refresh access token")
	}

	var token twitterTokenResponse
	if err := p.client.decode(resp, &token); err != nil {
		return model.AccessCredential{}, err
	}
	if token.AccessToken == "" {
		return model.AccessCredential{}, model.NewUpstreamError(model.PlatformTwitter, "empty access token in refresh response", nil)
	}

	cred := model.AccessCredential{
		AccountID:    account.ID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	// リフレッシュトークンがローテーションされない場合は既存のものを使い続ける
	if cred.RefreshToken == "" {
		cred.RefreshToken = account.RefreshToken
	}
	if token.ExpiresIn > 0 {
		expiresAt := p.now().Add(time.Duration(token.ExpiresIn) * time.Second)
		cred.ExpiresAt = &expiresAt
	}

	if err := p.tokens.UpdateTokens(ctx, cred); err != nil {
		return model.AccessCredential{}, err
	}

	p.logger.Info("twitter access token refreshed",
		slog.String("account_id", account.ID),
	)
	return cred, nil
}

// upstreamError はエラーレスポンスの detail または title を使ってUPSTREAM_ERRORを生成する。
func (p *TwitterPublisher) upstreamError(resp *apiResponse, fallback string) error {
	var body twitterErrorBody
	msg := fallback
	if err := p.client.decode(resp, &body); err == nil {
		switch {
		case body.Detail != "":
			msg = body.Detail
		case body.Title != "":
			msg = body.Title
		}
	}
	return model.NewUpstreamError(model.PlatformTwitter, msg, fmt.Errorf("status %d", resp.StatusCode))
}

// compile-time interface check
var (
	_ Publisher       = (*TwitterPublisher)(nil)
	_ Deleter         = (*TwitterPublisher)(nil)
	_ TimelineFetcher = (*TwitterPublisher)(nil)
	_ InsightsFetcher = (*TwitterPublisher)(nil)
)
