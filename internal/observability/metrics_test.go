package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandler(t *testing.T) {
	// Touch every vector once so each family has a series to expose.
	RecordQueueEnqueue("conv:test", 1)
	RecordQueueCompletion("conv:test", 50*time.Millisecond, true, 0)
	SetQueueSize("maintenance", 0)
	SetActiveConversations(2)
	RecordTranscriptLoad(5 * time.Millisecond)
	RecordTranscriptSave(3 * time.Millisecond)
	RecordValidation("Volatility", true)
	RecordValidation("Volatility", false)
	RecordViolation("bar_period")
	RecordStatRequest("Volatility", 120*time.Millisecond, true)
	RecordLogin(true)
	RecordAuthRetry()
	RecordResultCacheLookup(true)
	RecordResultCacheLookup(false)
	RecordAgentRun("anthropic", time.Second, true)
	RecordAgentRun("anthropic", 2*time.Second, false)
	RecordModelDecision("anthropic", "tool_call")
	RecordFallback()

	handler := MetricsHandler()
	if handler == nil {
		t.Fatal("MetricsHandler returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"queue_size",
		"enqueue_total",
		"dequeue_total",
		"task_duration_seconds",
		"active_conversations",
		"transcript_load_duration_seconds",
		"transcript_save_duration_seconds",
		"validation_total",
		"validation_violations_total",
		"stat_request_total",
		"stat_request_duration_seconds",
		"login_total",
		"auth_retry_total",
		"result_cache_total",
		"agent_run_total",
		"agent_run_duration_seconds",
		"agent_errors_total",
		"model_decision_total",
		"fallback_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestEnsureRegisteredIdempotent(t *testing.T) {
	// A second pass must not panic on duplicate collector registration.
	EnsureRegistered()
	EnsureRegistered()
}

func TestAuditLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	if err := InitAuditLogger(path); err != nil {
		t.Fatalf("InitAuditLogger failed: %v", err)
	}
	defer GetAuditLogger().Close()

	RecordDispatchAudit(context.Background(), "Volatility", "conv-1", "success", map[string]interface{}{"asset": "ES"})
	RecordAuthAudit(context.Background(), "login", "quantics", "success", nil)
	RecordConfigAudit(context.Background(), "credentials.reload", "svc-user", nil)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	content := string(data)

	expectedFragments := []string{
		`"action":"dispatch:Volatility"`,
		`"actor":"conv-1"`,
		`"asset":"ES"`,
		`"action":"login"`,
		`"type":"config"`,
		`"status":"success"`,
	}

	for _, fragment := range expectedFragments {
		if !strings.Contains(content, fragment) {
			t.Errorf("Audit log missing %s", fragment)
		}
	}

	lines := strings.Count(strings.TrimSpace(content), "\n") + 1
	if lines != 3 {
		t.Errorf("Expected 3 audit lines, got %d", lines)
	}
}
