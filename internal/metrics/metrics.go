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
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordAdmission(allowed bool)
	RecordAuthOperation(operation, result string)
	ObserveHashDuration(operation string, d time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	admission    *prometheus.CounterVec
	authOps      *prometheus.CounterVec
	hashDuration *prometheus.HistogramVec
	httpStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		admission: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_admission_total",
			Help: "アドミッション制御の判定数（decision=allowed|denied）",
		}, []string{"decision"}),
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_auth_operations_total",
			Help: "登録・ログイン操作の結果別の合計数",
		}, []string{"operation", "result"}),
		hashDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_password_hash_seconds",
			Help:    "パスワードのハッシュ化・検証に要した時間（秒）",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.admission,
		c.authOps,
		c.hashDuration,
		c.httpStatus,
	)

	return c
}

// RecordAdmission はアドミッション判定を記録する。
func (c *Collector) RecordAdmission(allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	c.admission.WithLabelValues(decision).Inc()
}

// RecordAuthOperation は認証操作の結果を記録する。
func (c *Collector) RecordAuthOperation(operation, result string) {
	c.authOps.WithLabelValues(operation, result).Inc()
}

// ObserveHashDuration はパスワード処理の所要時間を記録する。
func (c *Collector) ObserveHashDuration(operation string, d time.Duration) {
	c.hashDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
