package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/crosspost/internal/metrics"
	"github.com/hitoshi/crosspost/internal/model"
)

const userAgent = "crosspost/1.0"

// ClientConfig はプラットフォームAPIクライアントの共通設定。
type ClientConfig struct {
	// Timeout は1リクエストあたりのタイムアウト（デフォルト: 30秒）。
	Timeout time.Duration
	// RateLimit は1秒あたりの最大リクエスト数。0以下は無制限。
	RateLimit float64
	// RateBurst はレートリミッターのバースト数（デフォルト: 1）。
	RateBurst int
}

// apiClient はプラットフォームAPI呼び出しの共通処理を提供する。
// プラットフォームごとに1つ生成し、レートリミッターを共有する。
type apiClient struct {
	platform   model.Platform
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// apiResponse はAPIレスポンスのステータスとボディ。
type apiResponse struct {
	StatusCode int
	Body       []byte
}

func (r *apiResponse) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func newAPIClient(platform model.Platform, cfg ClientConfig, m metrics.MetricsCollector, logger *slog.Logger) *apiClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &apiClient{
		platform:   platform,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.RateBurst),
		metrics:    m,
		logger:     logger,
	}
}

// newJSONRequest はJSONボディ付きのリクエストを生成する。bodyがnilの場合はボディなし。
func newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do はレート制限を守ってリクエストを送信し、レスポンスボディを読み切って返す。
// 通信自体の失敗はUPSTREAM_ERRORとして返す。ステータスコードの判定は呼び出し側で行う。
func (c *apiClient) do(req *http.Request) (*apiResponse, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, contextError(c.platform, "waiting for rate limiter", ctxErr)
		}
		return nil, model.NewUpstreamError(c.platform, err.Error(), err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("platform API request failed",
			slog.String("platform", string(c.platform)),
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, contextError(c.platform, req.Method+" "+req.URL.Path, ctxErr)
		}
		return nil, model.NewUpstreamError(c.platform, err.Error(), err)
	}
	defer resp.Body.Close()

	c.metrics.RecordHTTPStatus(string(c.platform), resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewUpstreamError(c.platform, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("platform API returned error status",
			slog.String("platform", string(c.platform)),
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("http_status", resp.StatusCode),
		)
	}

	return &apiResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// decode はレスポンスボディをJSONとしてoutに読み込む。
func (c *apiClient) decode(resp *apiResponse, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return model.NewUpstreamError(c.platform, "malformed response body", err)
	}
	return nil
}

// contextError は呼び出し元のctxが終了したことによる失敗を分類する。
// 期限切れはTIMEOUT、キャンセルはUPSTREAM_ERRORとして返す。
func contextError(platform model.Platform, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTimeoutError(platform, op+": deadline exceeded")
	}
	return model.NewUpstreamError(platform, op+": "+err.Error(), err)
}

// sleepContext はdの間待機する。待機中にctxがキャンセルされた場合はctx.Err()を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
