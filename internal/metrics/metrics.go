// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// コーディネーターと質問パイプラインから利用する。
type MetricsCollector interface {
	RecordSignIn()
	RecordSignUp()
	RecordSignUpCompensation()
	RecordAskSuccess()
	RecordGenerationFailure()
	RecordPersistenceFailure()
	RecordHistoryRefreshFailure()
	RecordGenerationLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIns            prometheus.Counter
	signUps            prometheus.Counter
	signUpCompensation prometheus.Counter
	askSuccess         prometheus.Counter
	askFail            *prometheus.CounterVec
	generationLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "askviz_signin_total",
			Help: "サインイン成功の合計数",
		}),
		signUps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "askviz_signup_total",
			Help: "サインアップ成功の合計数",
		}),
		signUpCompensation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "askviz_signup_compensation_total",
			Help: "サインアップ補償処理（ロールバック）実行の合計数",
		}),
		askSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "askviz_ask_success_total",
			Help: "質問操作成功の合計数",
		}),
		askFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "askviz_ask_fail_total",
			Help: "質問操作失敗の段階別合計数",
		}, []string{"stage"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "askviz_generation_latency_seconds",
			Help:    "回答生成のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.signIns,
		c.signUps,
		c.signUpCompensation,
		c.askSuccess,
		c.askFail,
		c.generationLatency,
	)

	return c
}

// RecordSignIn はサインイン成功を記録する。
func (c *Collector) RecordSignIn() {
	c.signIns.Inc()
}

// RecordSignUp はサインアップ成功を記録する。
func (c *Collector) RecordSignUp() {
	c.signUps.Inc()
}

// RecordSignUpCompensation はサインアップ補償処理の実行を記録する。
func (c *Collector) RecordSignUpCompensation() {
	c.signUpCompensation.Inc()
}

// RecordAskSuccess は質問操作の成功を記録する。
func (c *Collector) RecordAskSuccess() {
	c.askSuccess.Inc()
}

// RecordGenerationFailure は回答生成段階の失敗を記録する。
func (c *Collector) RecordGenerationFailure() {
	c.askFail.WithLabelValues("generation").Inc()
}

// RecordPersistenceFailure は保存段階の失敗を記録する。
func (c *Collector) RecordPersistenceFailure() {
	c.askFail.WithLabelValues("persistence").Inc()
}

// RecordHistoryRefreshFailure は履歴再取得段階の失敗を記録する。
func (c *Collector) RecordHistoryRefreshFailure() {
	c.askFail.WithLabelValues("history_refresh").Inc()
}

// RecordGenerationLatency は回答生成のレイテンシを記録する。
func (c *Collector) RecordGenerationLatency(duration time.Duration) {
	c.generationLatency.Observe(duration.Seconds())
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
