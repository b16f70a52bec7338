// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 配信・コマンド取り込み・エンリッチメント・取り込み・アラートの各
// コンポーネントが参照するメトリクスインターフェースをまとめて実装する。
type Collector struct {
	deliveriesSent   prometheus.Counter
	deliveryFailures prometheus.Counter
	deliveryLatency  prometheus.Histogram
	commandsOK       *prometheus.CounterVec
	commandsRejected *prometheus.CounterVec
	itemsImported    prometheus.Counter
	titlesEnriched   prometheus.Counter
	alertsSent       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deliveriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearlist_deliveries_sent_total",
			Help: "配信に成功したアイテムの合計数",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearlist_delivery_failures_total",
			Help: "送信失敗した配信の合計数",
		}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearlist_delivery_latency_seconds",
			Help:    "配信メール送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		commandsOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearlist_commands_processed_total",
			Help: "適用されたメールコマンドの合計数",
		}, []string{"action"}),
		commandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearlist_commands_rejected_total",
			Help: "拒否されたメールコマンドの合計数",
		}, []string{"reason"}),
		itemsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearlist_items_imported_total",
			Help: "プロバイダから取り込まれたアイテムの合計数",
		}),
		titlesEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearlist_titles_enriched_total",
			Help: "タイトルが補完されたアイテムの合計数",
		}),
		alertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearlist_alerts_sent_total",
			Help: "送信されたアラート通知の合計数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.deliveriesSent,
		c.deliveryFailures,
		c.deliveryLatency,
		c.commandsOK,
		c.commandsRejected,
		c.itemsImported,
		c.titlesEnriched,
		c.alertsSent,
	)

	return c
}

// RecordDeliverySent は配信成功を記録する。
func (c *Collector) RecordDeliverySent() {
	c.deliveriesSent.Inc()
}

// RecordDeliveryFailure は配信の送信失敗を記録する。
func (c *Collector) RecordDeliveryFailure() {
	c.deliveryFailures.Inc()
}

// RecordDeliveryLatency は配信メール送信のレイテンシを記録する。
func (c *Collector) RecordDeliveryLatency(d time.Duration) {
	c.deliveryLatency.Observe(d.Seconds())
}

// RecordCommandProcessed は適用されたメールコマンドを記録する。
func (c *Collector) RecordCommandProcessed(action string) {
	c.commandsOK.WithLabelValues(action).Inc()
}

// RecordCommandRejected は拒否されたメールコマンドを記録する。
func (c *Collector) RecordCommandRejected(reason string) {
	c.commandsRejected.WithLabelValues(reason).Inc()
}

// RecordItemImported はプロバイダからの取り込みを記録する。
func (c *Collector) RecordItemImported() {
	c.itemsImported.Inc()
}

// RecordTitleEnriched はタイトル補完を記録する。
func (c *Collector) RecordTitleEnriched() {
	c.titlesEnriched.Inc()
}

// RecordAlertSent はアラート通知の送信を記録する。
func (c *Collector) RecordAlertSent(kind string) {
	c.alertsSent.WithLabelValues(kind).Inc()
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
