// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/pkgindex/internal/model"
)

// SessionCounter は現在のセッション数を返す。session.Storeが満たす。
type SessionCounter interface {
	Len() int
}

// Collector はPrometheusメトリクスを収集する実装。
// publish.OutcomeRecorderとmiddleware.CredentialRecorderを満たす。
type Collector struct {
	publishOutcomes  *prometheus.CounterVec
	probes           *prometheus.CounterVec
	logins           *prometheus.CounterVec
	credentialChecks *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
// sessionsがnilでない場合はセッション数のゲージも登録する。
func NewCollector(reg prometheus.Registerer, sessions SessionCounter) *Collector {
	c := &Collector{
		publishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgindex_publish_total",
			Help: "パブリッシュリクエストの結果別の合計数",
		}, []string{"outcome"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgindex_publish_probe_total",
			Help: "既存リリース確認の結果別の合計数",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgindex_login_total",
			Help: "OAuthログインの結果別の合計数",
		}, []string{"result"}),
		credentialChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgindex_credential_check_total",
			Help: "パブリッシュ資格情報検証の結果別の合計数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.publishOutcomes,
		c.probes,
		c.logins,
		c.credentialChecks,
	)

	if sessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pkgindex_sessions",
			Help: "保持しているセッション数",
		}, func() float64 {
			return float64(sessions.Len())
		}))
	}

	return c
}

// RecordPublish はパブリッシュの結果を記録する。
func (c *Collector) RecordPublish(outcome model.PublishOutcome) {
	c.publishOutcomes.WithLabelValues(string(outcome)).Inc()
}

// RecordProbe は既存リリース確認の結果を記録する。
func (c *Collector) RecordProbe(found bool) {
	c.probes.WithLabelValues(resultLabel(found, "found", "not_found")).Inc()
}

// RecordLogin はOAuthログインの結果を記録する。
func (c *Collector) RecordLogin(success bool) {
	c.logins.WithLabelValues(resultLabel(success, "success", "failure")).Inc()
}

// RecordCredentialCheck はパブリッシュ資格情報の検証結果を記録する。
// 拒否はパブリッシュ結果のrejected_authとしても数える。
func (c *Collector) RecordCredentialCheck(granted bool) {
	c.credentialChecks.WithLabelValues(resultLabel(granted, "granted", "denied")).Inc()
	if !granted {
		c.publishOutcomes.WithLabelValues(string(model.PublishRejectedAuth)).Inc()
	}
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
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
