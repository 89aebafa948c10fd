package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/crosspost/internal/metrics"
	"github.com/hitoshi/crosspost/internal/model"
)

const (
	defaultThreadsBaseURL = "https://graph.threads.net/v1.0"

	// DefaultThreadsPollInterval はコンテナ状態のポーリング間隔の既定値。
	DefaultThreadsPollInterval = 2 * time.Second
	// DefaultThreadsPollMaxAttempts はコンテナ状態のポーリング回数上限の既定値。
	DefaultThreadsPollMaxAttempts = 10
)

// Threadsのコンテナ状態
const (
	containerFinished = "FINISHED"
	containerError    = "ERROR"
)

// threadsInsightMetrics はインサイト取得で要求するメトリクス。
var threadsInsightMetrics = []string{"views", "likes", "replies", "reposts", "quotes", "shares"}

// ThreadsConfig はThreadsパブリッシャーの設定。
type ThreadsConfig struct {
	// テスト用にオーバーライド可能なURL
	BaseURL         string
	PollInterval    time.Duration
	PollMaxAttempts int
	Client          ClientConfig
}

// ThreadsPublisher はThreads Graph APIへの配信を行う。
// 配信はコンテナ作成、処理完了待ち、公開の3段階で行う。
type ThreadsPublisher struct {
	config  ThreadsConfig
	client  *apiClient
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewThreadsPublisher はThreadsPublisherを生成する。
// PollIntervalが負の場合、PollMaxAttemptsが0以下の場合は既定値を使う。
func NewThreadsPublisher(config ThreadsConfig, m metrics.MetricsCollector, logger *slog.Logger) *ThreadsPublisher {
	if config.BaseURL == "" {
		config.BaseURL = defaultThreadsBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.PollInterval < 0 {
		config.PollInterval = DefaultThreadsPollInterval
	}
	if config.PollMaxAttempts <= 0 {
		config.PollMaxAttempts = DefaultThreadsPollMaxAttempts
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadsPublisher{
		config:  config,
		client:  newAPIClient(model.PlatformThreads, config.Client, m, logger),
		metrics: m,
		logger:  logger,
	}
}

// Platform はmodel.PlatformThreadsを返す。
func (p *ThreadsPublisher) Platform() model.Platform {
	return model.PlatformThreads
}

// threadsErrorBody はGraph APIのエラーレスポンス。
type threadsErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type threadsIDResponse struct {
	ID string `json:"id"`
}

type threadsContainerStatus struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// Publish はコンテナを作成し、処理完了を待ってから公開する。
func (p *ThreadsPublisher) Publish(ctx context.Context, post *model.Post, account *model.SocialAccount) (string, error) {
	cred := account.Credential()

	containerID, err := p.createContainer(ctx, account.PlatformUserID, cred, BuildText(post))
	if err != nil {
		return "", err
	}

	if err := p.waitForContainer(ctx, containerID, cred); err != nil {
		return "", err
	}

	postID, err := p.publishContainer(ctx, account.PlatformUserID, containerID, cred)
	if err != nil {
		return "", err
	}

	p.logger.Info("threads post published",
		slog.String("post_id", post.ID),
		slog.String("platform_post_id", postID),
	)
	return postID, nil
}

func (p *ThreadsPublisher) createContainer(ctx context.Context, userID string, cred model.AccessCredential, text string) (string, error) {
	req, err := newJSONRequest(ctx, http.MethodPost, p.config.BaseURL+"/"+url.PathEscape(userID)+"/threads", map[string]string{
		"media_type":   "TEXT",
		"text":         text,
		"access_token": cred.AccessToken,
	})
	if err != nil {
		return "", err
	}

	resp, err := p.client.do(req)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", p.upstreamError(resp, "failed to create media container")
	}

	var body threadsIDResponse
	if err := p.client.decode(resp, &body); err != nil {
		return "", err
	}
	if body.ID == "" {
		return "", model.NewUpstreamError(model.PlatformThreads, "no creation id returned", nil)
	}
	return body.ID, nil
}

// waitForContainer はコンテナがFINISHEDになるまでポーリングする。
// ERRORの場合は即座に失敗し、上限回数内に完了しない場合はTIMEOUTを返す。
func (p *ThreadsPublisher) waitForContainer(ctx context.Context, containerID string, cred model.AccessCredential) error {
	q := url.Values{
		"fields":       {"status,error_message"},
		"access_token": {cred.AccessToken},
	}
	endpoint := p.config.BaseURL + "/" + url.PathEscape(containerID) + "?" + q.Encode()

	for attempt := 1; attempt <= p.config.PollMaxAttempts; attempt++ {
		if err := sleepContext(ctx, p.config.PollInterval); err != nil {
			return contextError(model.PlatformThreads, "container polling", err)
		}

		req, err := newJSONRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := p.client.do(req)
		if err != nil {
			return err
		}
		if !resp.ok() {
			return p.upstreamError(resp, "failed to check container status")
		}

		var status threadsContainerStatus
		if err := p.client.decode(resp, &status); err != nil {
			return err
		}

		switch status.Status {
		case containerFinished:
			p.metrics.RecordContainerPolls(attempt)
			return nil
		case containerError:
			p.metrics.RecordContainerPolls(attempt)
			msg := status.ErrorMessage
			if msg == "" {
				msg = "media container processing failed"
			}
			return model.NewUpstreamError(model.PlatformThreads, msg, nil)
		}

		p.logger.Debug("threads container not ready",
			slog.String("container_id", containerID),
			slog.String("status", status.Status),
			slog.Int("attempt", attempt),
		)
	}

	p.metrics.RecordContainerPolls(p.config.PollMaxAttempts)
	return model.NewTimeoutError(model.PlatformThreads,
		fmt.Sprintf("media container was not ready after %d attempts", p.config.PollMaxAttempts))
}

func (p *ThreadsPublisher) publishContainer(ctx context.Context, userID, containerID string, cred model.AccessCredential) (string, error) {
	req, err := newJSONRequest(ctx, http.MethodPost, p.config.BaseURL+"/"+url.PathEscape(userID)+"/threads_publish", map[string]string{
		"creation_id":  containerID,
		"access_token": cred.AccessToken,
	})
	if err != nil {
		return "", err
	}

	resp, err := p.client.do(req)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", p.upstreamError(resp, "failed to publish media container")
	}

	var body threadsIDResponse
	if err := p.client.decode(resp, &body); err != nil {
		return "", err
	}
	if body.ID == "" {
		return "", model.NewUpstreamError(model.PlatformThreads, "no post id returned", nil)
	}
	return body.ID, nil
}

// Delete はThreads上の投稿を削除する。
func (p *ThreadsPublisher) Delete(ctx context.Context, platformPostID string, account *model.SocialAccount) error {
	q := url.Values{"access_token": {account.AccessToken}}
	req, err := newJSONRequest(ctx, http.MethodDelete,
		p.config.BaseURL+"/"+url.PathEscape(platformPostID)+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := p.client.do(req)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return p.upstreamError(resp, "failed to delete post")
	}
	return nil
}

type threadsTimelineResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		Permalink string `json:"permalink"`
		MediaType string `json:"media_type"`
		Timestamp string `json:"timestamp"`
	} `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

// FetchTimeline はアカウントの投稿を新しい順に1ページ取得する。
func (p *ThreadsPublisher) FetchTimeline(ctx context.Context, account *model.SocialAccount, cursor string, limit int) (*model.TimelinePage, error) {
	q := url.Values{
		"fields":       {"id,text,permalink,media_type,timestamp"},
		"access_token": {account.AccessToken},
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("after", cursor)
	}

	req, err := newJSONRequest(ctx, http.MethodGet,
		p.config.BaseURL+"/"+url.PathEscape(account.PlatformUserID)+"/threads?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.do(req)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, p.upstreamError(resp, "failed to fetch timeline")
	}

	var body threadsTimelineResponse
	if err := p.client.decode(resp, &body); err != nil {
		return nil, err
	}

	page := &model.TimelinePage{
		Items:   make([]model.TimelineItem, 0, len(body.Data)),
		HasMore: body.Paging.Next != "" && body.Paging.Cursors.After != "",
	}
	if page.HasMore {
		page.NextCursor = body.Paging.Cursors.After
	}
	for _, d := range body.Data {
		ts, err := parseThreadsTimestamp(d.Timestamp)
		if err != nil {
			return nil, model.NewUpstreamError(model.PlatformThreads, "malformed timestamp: "+d.Timestamp, err)
		}
		page.Items = append(page.Items, model.TimelineItem{
			ID:        d.ID,
			Text:      d.Text,
			Permalink: d.Permalink,
			MediaType: d.MediaType,
			Timestamp: ts,
		})
	}
	return page, nil
}

type threadsInsightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
		TotalValue *struct {
			Value int64 `json:"value"`
		} `json:"total_value"`
	} `json:"data"`
}

// FetchInsights は投稿のメトリクスを取得する。値は加工せずに返す。
func (p *ThreadsPublisher) FetchInsights(ctx context.Context, platformPostID string, account *model.SocialAccount) (*model.PostInsights, error) {
	q := url.Values{
		"metric":       {strings.Join(threadsInsightMetrics, ",")},
		"access_token": {account.AccessToken},
	}
	req, err := newJSONRequest(ctx, http.MethodGet,
		p.config.BaseURL+"/"+url.PathEscape(platformPostID)+"/insights?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.do(req)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, p.upstreamError(resp, "failed to fetch insights")
	}

	var body threadsInsightsResponse
	if err := p.client.decode(resp, &body); err != nil {
		return nil, err
	}

	insights := &model.PostInsights{
		Platform:       model.PlatformThreads,
		PlatformPostID: platformPostID,
		Metrics:        make(map[string]int64, len(body.Data)),
	}
	for _, d := range body.Data {
		switch {
		case d.TotalValue != nil:
			insights.Metrics[d.Name] = d.TotalValue.Value
		case len(d.Values) > 0:
			insights.Metrics[d.Name] = d.Values[0].Value
		}
	}
	return insights, nil
}

// upstreamError はエラーレスポンスの error.message を使ってUPSTREAM_ERRORを生成する。
func (p *ThreadsPublisher) upstreamError(resp *apiResponse, fallback string) error {
	var body threadsErrorBody
	msg := fallback
	if err := p.client.decode(resp, &body); err == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	return model.NewUpstreamError(model.PlatformThreads, msg, fmt.Errorf("status %d", resp.StatusCode))
}

// parseThreadsTimestamp はGraph APIの "2006-01-02T15:04:05+0000" 形式とRFC3339の両方を受け付ける。
func parseThreadsTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05-0700", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// compile-time interface check
var (
	_ Publisher       = (*ThreadsPublisher)(nil)
	_ Deleter         = (*ThreadsPublisher)(nil)
	_ TimelineFetcher = (*ThreadsPublisher)(nil)
	_ InsightsFetcher = (*ThreadsPublisher)(nil)
)
