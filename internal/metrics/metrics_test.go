package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// gatherCounter は指定メトリクスのカウンタ値を取り出すヘルパー。
func gatherCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

// TestRecordDeliverySent_IncrementsCounter は配信成功カウンタが増加することを検証する。
func TestRecordDeliverySent_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeliverySent()
	c.RecordDeliverySent()

	if val := gatherCounter(t, reg, "clearlist_deliveries_sent_total"); val != 2 {
		t.Errorf("deliveries_sent_total = %v, want 2", val)
	}
}

// TestRecordDeliveryFailure_IncrementsCounter は配信失敗カウンタが増加することを検証する。
func TestRecordDeliveryFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeliveryFailure()

	if val := gatherCounter(t, reg, "clearlist_delivery_failures_total"); val != 1 {
		t.Errorf("delivery_failures_total = %v, want 1", val)
	}
}

// TestRecordDeliveryLatency_ObservesHistogram は配信レイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordDeliveryLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeliveryLatency(100 * time.Millisecond)
	c.RecordDeliveryLatency(2 * time.Second)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "clearlist_delivery_latency_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.1 + 2.0 = 2.1秒
			if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
				t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("clearlist_delivery_latency_seconds metric not found")
	}
}

// TestRecordCommand_IncrementsCountersWithLabels はコマンドカウンタがラベル付きで増加することを検証する。
func TestRecordCommand_IncrementsCountersWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCommandProcessed("add")
	c.RecordCommandProcessed("add")
	c.RecordCommandProcessed("reschedule")
	c.RecordCommandRejected("unknown_sender")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "clearlist_commands_processed_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "add":
					if val != 2 {
						t.Errorf("commands_processed_total{action=add} = %v, want 2", val)
					}
				case "reschedule":
					if val != 1 {
						t.Errorf("commands_processed_total{action=reschedule} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("clearlist_commands_processed_total metric not found")
	}
}

// TestRecordJobCounters_Increment はジョブ系カウンタが増加することを検証する。
func TestRecordJobCounters_Increment(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordItemImported()
	c.RecordItemImported()
	c.RecordTitleEnriched()
	c.RecordAlertSent("empty_list")

	if val := gatherCounter(t, reg, "clearlist_items_imported_total"); val != 2 {
		t.Errorf("items_imported_total = %v, want 2", val)
	}
	if val := gatherCounter(t, reg, "clearlist_titles_enriched_total"); val != 1 {
		t.Errorf("titles_enriched_total = %v, want 1", val)
	}
	if val := gatherCounter(t, reg, "clearlist_alerts_sent_total"); val != 1 {
		t.Errorf("alerts_sent_total = %v, want 1", val)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	// いくつかのメトリクスを記録
	c.RecordDeliverySent()
	c.RecordDeliveryFailure()
	c.RecordCommandProcessed("add")
	c.RecordDeliveryLatency(500 * time.Millisecond)
	c.RecordItemImported()

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	// Prometheus形式のメトリクスが含まれていることを確認
	expectedMetrics := []string{
		"clearlist_deliveries_sent_total",
		"clearlist_delivery_failures_total",
		"clearlist_commands_processed_total",
		"clearlist_delivery_latency_seconds",
		"clearlist_items_imported_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordDeliverySent()
	c2.RecordDeliverySent()
	c2.RecordDeliverySent()

	if val := gatherCounter(t, reg1, "clearlist_deliveries_sent_total"); val != 1 {
		t.Errorf("reg1 deliveries_sent = %v, want 1", val)
	}
	if val := gatherCounter(t, reg2, "clearlist_deliveries_sent_total"); val != 2 {
		t.Errorf("reg2 deliveries_sent = %v, want 2", val)
	}
}
