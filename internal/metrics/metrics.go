// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 配信処理、パブリッシャー、スケジューラから利用する。
type MetricsCollector interface {
	RecordPublish(platform string, result string)
	RecordPublishLatency(platform string, duration time.Duration)
	RecordPlatformDelete(platform string, result string)
	RecordTokenRefresh(platform string, result string)
	RecordContainerPolls(attempts int)
	RecordHTTPStatus(platform string, statusCode int)
	RecordScheduledClaimed(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	publishTotal     *prometheus.CounterVec
	publishLatency   *prometheus.HistogramVec
	deleteTotal      *prometheus.CounterVec
	refreshTotal     *prometheus.CounterVec
	containerPolls   prometheus.Histogram
	httpStatus       *prometheus.CounterVec
	scheduledClaimed prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_publish_total",
			Help: "プラットフォーム別の配信試行数",
		}, []string{"platform", "result"}),
		publishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crosspost_publish_latency_seconds",
			Help:    "プラットフォーム別の配信レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		deleteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_platform_delete_total",
			Help: "プラットフォーム別の投稿削除試行数",
		}, []string{"platform", "result"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_token_refresh_total",
			Help: "アクセストークンのリフレッシュ数",
		}, []string{"platform", "result"}),
		containerPolls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crosspost_container_poll_attempts",
			Help:    "コンテナ処理完了までのポーリング回数",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_upstream_http_status_total",
			Help: "プラットフォームAPIのステータスコード別レスポンス数",
		}, []string{"platform", "status_code"}),
		scheduledClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crosspost_scheduled_claimed_total",
			Help: "スケジューラが取得した予約投稿の合計数",
		}),
	}

	reg.MustRegister(
		c.publishTotal,
		c.publishLatency,
		c.deleteTotal,
		c.refreshTotal,
		c.containerPolls,
		c.httpStatus,
		c.scheduledClaimed,
	)

	return c
}

// RecordPublish は配信試行の結果を記録する。
func (c *Collector) RecordPublish(platform string, result string) {
	c.publishTotal.WithLabelValues(platform, result).Inc()
}

// RecordPublishLatency は配信のレイテンシを記録する。
func (c *Collector) RecordPublishLatency(platform string, duration time.Duration) {
	c.publishLatency.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordPlatformDelete はプラットフォーム上の投稿削除の結果を記録する。
func (c *Collector) RecordPlatformDelete(platform string, result string) {
	c.deleteTotal.WithLabelValues(platform, result).Inc()
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(platform string, result string) {
	c.refreshTotal.WithLabelValues(platform, result).Inc()
}

// RecordContainerPolls はコンテナ状態のポーリング回数を記録する。
func (c *Collector) RecordContainerPolls(attempts int) {
	c.containerPolls.Observe(float64(attempts))
}

// RecordHTTPStatus はプラットフォームAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(platform string, statusCode int) {
	c.httpStatus.WithLabelValues(platform, strconv.Itoa(statusCode)).Inc()
}

// RecordScheduledClaimed はスケジューラが取得した予約投稿数を記録する。
func (c *Collector) RecordScheduledClaimed(count int) {
	c.scheduledClaimed.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordPublish(string, string)                {}
func (Nop) RecordPublishLatency(string, time.Duration) {}
func (Nop) RecordPlatformDelete(string, string)         {}
func (Nop) RecordTokenRefresh(string, string)           {}
func (Nop) RecordContainerPolls(int)                    {}
func (Nop) RecordHTTPStatus(string, int)                {}
func (Nop) RecordScheduledClaimed(int)                  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
