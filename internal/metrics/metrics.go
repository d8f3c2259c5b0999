// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 承認判定の結果ラベル
const (
	DecisionApproved     = "approved"
	DecisionRejected     = "rejected"
	DecisionInvalidState = "invalid_state"
	DecisionNotFound     = "not_found"
)

// プッシュ配信の結果ラベル
const (
	PushQueued  = "queued"
	PushDropped = "dropped"
)

// Recorder はメトリクス記録のインターフェース。
// サービス層、プッシュ配信、ワーカーから利用する。
type Recorder interface {
	RecordDecision(outcome string)
	RecordNotification(notificationType string)
	RecordPush(event string, result string)
	SetPushConnections(n int)
	SetActiveSessions(n int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	decisions      *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	pushes         *prometheus.CounterVec
	connections    prometheus.Gauge
	sessions       prometheus.Gauge
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mandapadmin_approval_decisions_total",
			Help: "承認リクエストの判定結果別の件数",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mandapadmin_notifications_created_total",
			Help: "種別ごとの通知作成数",
		}, []string{"type"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mandapadmin_push_events_total",
			Help: "イベント別・結果別のプッシュ配信数",
		}, []string{"event", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mandapadmin_push_connections",
			Help: "登録中のプッシュ接続数",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mandapadmin_active_sessions",
			Help: "有効期限内のログインセッション数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mandapadmin_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mandapadmin_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.decisions,
		c.notifications,
		c.pushes,
		c.connections,
		c.sessions,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordDecision は承認判定の結果を記録する。
func (c *Collector) RecordDecision(outcome string) {
	c.decisions.WithLabelValues(outcome).Inc()
}

// RecordNotification は通知の作成を記録する。
func (c *Collector) RecordNotification(notificationType string) {
	c.notifications.WithLabelValues(notificationType).Inc()
}

// RecordPush はプッシュ配信の結果を記録する。
func (c *Collector) RecordPush(event string, result string) {
	c.pushes.WithLabelValues(event, result).Inc()
}

// SetPushConnections は登録中のプッシュ接続数を設定する。
func (c *Collector) SetPushConnections(n int) {
	c.connections.Set(float64(n))
}

// SetActiveSessions は有効なログインセッション数を設定する。
func (c *Collector) SetActiveSessions(n int) {
	c.sessions.Set(float64(n))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordDecision(string)             {}
func (Nop) RecordNotification(string)         {}
func (Nop) RecordPush(string, string)         {}
func (Nop) SetPushConnections(int)            {}
func (Nop) SetActiveSessions(int)             {}
func (Nop) RecordHTTPStatus(int)              {}
func (Nop) RecordRequestLatency(time.Duration) {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
