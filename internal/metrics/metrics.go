// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordAuthFailure(reason string)
	RecordRateLimited(policy string)
	RecordFormSubmission(kind string)
	RecordPostStatusChange(status string)
	RecordMailSent()
	RecordMailFailure(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	authFailures     *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	formSubmissions  *prometheus.CounterVec
	postStatusChange *prometheus.CounterVec
	mailSent         prometheus.Counter
	mailFailures     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopehub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hopehub_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopehub_auth_failures_total",
			Help: "認証・認可失敗の合計数（原因別）",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopehub_rate_limited_total",
			Help: "レート制限により拒否されたリクエスト数",
		}, []string{"policy"}),
		formSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopehub_form_submissions_total",
			Help: "受け付けたフォーム送信の合計数（種別ごと）",
		}, []string{"kind"}),
		postStatusChange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopehub_post_status_changes_total",
			Help: "投稿の公開状態変更の合計数",
		}, []string{"status"}),
		mailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hopehub_mail_sent_total",
			Help: "送信に成功したメールの合計数",
		}),
		mailFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hopehub_mail_failures_total",
			Help: "メール送信失敗の合計数（retry: 再送予定, failed: 断念）",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.authFailures,
		c.rateLimited,
		c.formSubmissions,
		c.postStatusChange,
		c.mailSent,
		c.mailFailures,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordAuthFailure は認証・認可の失敗を記録する。
// reasonは missing_token, invalid_token, forbidden のいずれか。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(policy string) {
	c.rateLimited.WithLabelValues(policy).Inc()
}

// RecordFormSubmission はフォーム送信の受け付けを記録する。
func (c *Collector) RecordFormSubmission(kind string) {
	c.formSubmissions.WithLabelValues(kind).Inc()
}

// RecordPostStatusChange は投稿の公開状態変更を記録する。
func (c *Collector) RecordPostStatusChange(status string) {
	c.postStatusChange.WithLabelValues(status).Inc()
}

// RecordMailSent はメール送信成功を記録する。
func (c *Collector) RecordMailSent() {
	c.mailSent.Inc()
}

// RecordMailFailure はメール送信失敗を記録する。
func (c *Collector) RecordMailFailure(outcome string) {
	c.mailFailures.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordAuthFailure(string) {}
func (Nop) RecordRateLimited(string) {}
func (Nop) RecordFormSubmission(string) {}
func (Nop) RecordPostStatusChange(string) {}
func (Nop) RecordMailSent() {}
func (Nop) RecordMailFailure(string) {}
