package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily はレジストリから指定名のメトリクスファミリーを取得する。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// counterByLabel はラベル値ごとのカウンタ値を返す。
func counterByLabel(mf *dto.MetricFamily) map[string]float64 {
	values := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		values[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	return values
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	got := counterByLabel(findMetricFamily(t, reg, "hopehub_http_status_total"))
	if len(got) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(got))
	}
	if got["200"] != 2 {
		t.Errorf("http_status_total{status_code=200} = %v, want 2", got["200"])
	}
	if got["404"] != 1 {
		t.Errorf("http_status_total{status_code=404} = %v, want 1", got["404"])
	}
}

// TestRecordRequestLatency_ObservesHistogram はリクエスト処理時間のヒストグラムに値が記録されることを検証する。
func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(100 * time.Millisecond)
	c.RecordRequestLatency(2 * time.Second)

	h := findMetricFamily(t, reg, "hopehub_http_request_duration_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestRecordAuthFailure_CountsByReason は認証失敗が原因別に集計されることを検証する。
func TestRecordAuthFailure_CountsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthFailure("missing_token")
	c.RecordAuthFailure("invalid_token")
	c.RecordAuthFailure("invalid_token")
	c.RecordAuthFailure("forbidden")

	got := counterByLabel(findMetricFamily(t, reg, "hopehub_auth_failures_total"))
	want := map[string]float64{"missing_token": 1, "invalid_token": 2, "forbidden": 1}
	for reason, v := range want {
		if got[reason] != v {
			t.Errorf("auth_failures_total{reason=%s} = %v, want %v", reason, got[reason], v)
		}
	}
}

// TestRecordFormSubmission_CountsByKind はフォーム送信が種別ごとに集計されることを検証する。
func TestRecordFormSubmission_CountsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFormSubmission("donation")
	c.RecordFormSubmission("donation")
	c.RecordFormSubmission("newsletter")

	got := counterByLabel(findMetricFamily(t, reg, "hopehub_form_submissions_total"))
	if got["donation"] != 2 || got["newsletter"] != 1 {
		t.Errorf("form_submissions_total = %v", got)
	}
}

// TestRecordMail_SentAndFailures はメール送信結果が記録されることを検証する。
func TestRecordMail_SentAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMailSent()
	c.RecordMailSent()
	c.RecordMailFailure("retry")
	c.RecordMailFailure("failed")

	sent := findMetricFamily(t, reg, "hopehub_mail_sent_total").GetMetric()[0].GetCounter().GetValue()
	if sent != 2 {
		t.Errorf("mail_sent_total = %v, want 2", sent)
	}
	failures := counterByLabel(findMetricFamily(t, reg, "hopehub_mail_failures_total"))
	if failures["retry"] != 1 || failures["failed"] != 1 {
		t.Errorf("mail_failures_total = %v", failures)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordRequestLatency(500 * time.Millisecond)
	c.RecordAuthFailure("forbidden")
	c.RecordRateLimited("forms")
	c.RecordFormSubmission("contact")
	c.RecordPostStatusChange("PUBLISHED")
	c.RecordMailSent()
	c.RecordMailFailure("retry")

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

	expectedMetrics := []string{
		"hopehub_http_status_total",
		"hopehub_http_request_duration_seconds",
		"hopehub_auth_failures_total",
		"hopehub_rate_limited_total",
		"hopehub_form_submissions_total",
		`hopehub_post_status_changes_total{status="PUBLISHED"} 1`,
		"hopehub_mail_sent_total",
		"hopehub_mail_failures_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorとNopがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
	var _ MetricsCollector = Nop{}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordMailSent()
	c2.RecordMailSent()
	c2.RecordMailSent()

	val1 := findMetricFamily(t, reg1, "hopehub_mail_sent_total").GetMetric()[0].GetCounter().GetValue()
	val2 := findMetricFamily(t, reg2, "hopehub_mail_sent_total").GetMetric()[0].GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 mail_sent = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 mail_sent = %v, want 2", val2)
	}
}
