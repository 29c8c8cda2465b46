package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}

	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected an invalid log level to fail")
	}

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected an unknown exporter to fail")
	}

	cfg = DefaultConfig()
	cfg.Tracing.SamplingRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Expected an out-of-range sampling rate to fail")
	}
}

func TestNewTelemetry_DefaultsAreNoop(t *testing.T) {
	tel, err := NewTelemetry(DefaultConfig())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	// Disabled metrics must not panic.
	tel.Metrics.RecordDeployment("container", "success")
	tel.Metrics.RecordStageDuration("container", "apply", time.Second)
	tel.Metrics.RecordRuntimeCall("docker", "run")
	tel.Metrics.RecordRuntimeError("docker", "run")
	tel.Metrics.RecordReportSend("success")
	tel.Metrics.RecordRunCompleted("completed", time.Minute)
}

func TestMetrics_EnabledRegistryServesCounters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Path: "/metrics"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	m.RecordDeployment("container", "success")
	m.RecordDeployment("helm", "failure")
	m.RecordReportSend("failure")

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)

	if !strings.Contains(text, "berth_deployments_total") {
		t.Error("Expected deployments counter exposed")
	}
	if !strings.Contains(text, `kind="helm"`) || !strings.Contains(text, `status="failure"`) {
		t.Error("Expected kind and status labels exposed")
	}
	if !strings.Contains(text, "berth_report_sends_total") {
		t.Error("Expected report sends counter exposed")
	}
}

func TestMetrics_DisabledHandlerIs404(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for disabled metrics, got %d", rec.Code)
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	ctx := logger.WithContext(context.Background())
	if got := FromContext(ctx); got != logger {
		t.Error("Expected the stored logger back from the context")
	}

	// Missing logger falls back without panicking.
	fallback := FromContext(context.Background())
	fallback.Info("fallback logger works")
}

func TestStartOperation_WithoutTelemetryIsSafe(t *testing.T) {
	ic := StartOperation(context.Background(), "collection")
	if ic.Logger == nil || ic.Timer == nil {
		t.Fatal("Expected a usable instrumented context without a telemetry stack")
	}
	ic.End(nil)
}

func TestTracer_DisabledProducesSpans(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "berth", "test")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	ctx, span := tracer.StartUnitSpan(context.Background(), "web", "container")
	if ctx == nil || span == nil {
		t.Fatal("Expected a span even with tracing disabled")
	}
	RecordSuccess(span)
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Unexpected shutdown error: %v", err)
	}
}

func TestParseLogLevel_UnknownDefaultsToInfo(t *testing.T) {
	if got := parseLogLevel("loud"); got.String() != "info" {
		t.Errorf("Expected info default, got %s", got)
	}
}
