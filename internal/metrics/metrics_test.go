package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecordRequestIncrementsCounterAndHistogram(t *testing.T) {
	m := New()
	m.RecordRequest("COMPLETED", 1.5)

	if got := testutilCount(t, m, "pearlgate_requests_total"); got != 1 {
		t.Fatalf("expected 1 sample, got %d", got)
	}
}

func TestRecordUsageUpdatesTokensAndCost(t *testing.T) {
	m := New()
	m.RecordUsage("acct-1", "anthropic", 100, 50, 0.01)

	body := scrape(t, m)
	if !strings.Contains(body, `pearlgate_tokens_total{account_id="acct-1",kind="completion",provider="anthropic"} 50`) {
		t.Errorf("expected completion token count in scrape, got:\n%s", body)
	}
	if !strings.Contains(body, `pearlgate_cost_usd_total{account_id="acct-1",provider="anthropic"} 0.01`) {
		t.Errorf("expected cost total in scrape, got:\n%s", body)
	}
}

func TestSetAccountBudgetFraction(t *testing.T) {
	m := New()
	m.SetAccountBudgetFraction("acct-1", 0.75)

	body := scrape(t, m)
	if !strings.Contains(body, `pearlgate_account_budget_fraction{account_id="acct-1"} 0.75`) {
		t.Errorf("expected budget fraction gauge in scrape, got:\n%s", body)
	}
}

func TestRecordInjectionDetectionAndRateLimitBan(t *testing.T) {
	m := New()
	m.RecordInjectionDetection("high", "block")
	m.RecordRateLimitBan("user")

	body := scrape(t, m)
	if !strings.Contains(body, `pearlgate_injection_detections_total{action="block",severity="high"} 1`) {
		t.Errorf("expected injection detection counter in scrape, got:\n%s", body)
	}
	if !strings.Contains(body, `pearlgate_rate_limit_bans_total{scope="user"} 1`) {
		t.Errorf("expected rate limit ban counter in scrape, got:\n%s", body)
	}
}

func TestTwoInstancesDoNotPanicOnDuplicateRegistration(t *testing.T) {
	New()
	New()
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	return rec.Body.String()
}

func testutilCount(t *testing.T, m *Metrics, metricName string) int {
	t.Helper()
	body := scrape(t, m)
	count := 0
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, metricName+"{") || strings.HasPrefix(line, metricName+" ") {
			count++
		}
	}
	return count
}
