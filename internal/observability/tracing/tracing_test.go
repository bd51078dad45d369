package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSafeErrorRedacts(t *testing.T) {
	err := SafeError(errors.New("smtp auth failed for sara@example.com using Bearer abc.def"))
	msg := err.Error()
	if strings.Contains(msg, "sara@example.com") || strings.Contains(msg, "abc.def") {
		t.Fatalf("expected redaction, got %q", msg)
	}
	if SafeError(nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestSafeAttributesDropsBlockedKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("user_email", "sara@example.com"),
		attribute.String("http.route", "/api/sync/daily"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestGinMiddlewareRecordsRouteAndJobID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/api/sync/aggregated/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sync/aggregated/job-1", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "HTTP GET /api/sync/aggregated/:id" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	found := false
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "ordersync.job_id" && attr.Value.AsString() == "job-1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected job id attribute")
	}
}

func TestSyncKindFromRoute(t *testing.T) {
	cases := map[string]string{
		"/api/sync/aggregated/:id/pause": "aggregated",
		"/api/sync/daily":                "daily",
		"/tasks/pubsub":                  "task",
		"/health":                        "",
	}
	for route, want := range cases {
		if got := syncKind(route); got != want {
			t.Fatalf("syncKind(%q) = %q, want %q", route, got, want)
		}
	}
}
