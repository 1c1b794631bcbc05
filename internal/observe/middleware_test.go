package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

// serveOnce wraps h in the observe middleware and runs a single request
// against it.
func serveOnce(m *Metrics, req *http.Request, h http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	Middleware(m)(h).ServeHTTP(rec, req)
	return rec
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	setupTracing(t)
	m, _ := newTestMetrics(t)

	var inHandler string
	rec := serveOnce(m, httptest.NewRequest("GET", "/healthz", nil),
		func(w http.ResponseWriter, r *http.Request) {
			inHandler = CorrelationID(r.Context())
			w.WriteHeader(http.StatusOK)
		})

	if len(inHandler) != 32 {
		t.Fatalf("handler saw correlation ID %q, want a 32-char trace ID", inHandler)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
		t.Errorf("X-Correlation-ID header = %q, handler saw %q", got, inHandler)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("response missing injected traceparent header")
	}
}

func TestMiddleware_SpanPerRequest(t *testing.T) {
	exp := setupTracing(t)
	m, _ := newTestMetrics(t)

	serveOnce(m, httptest.NewRequest("GET", "/readyz", nil), okHandler)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if want := "HTTP GET /readyz"; spans[0].Name != want {
		t.Errorf("span name = %q, want %q", spans[0].Name, want)
	}
}

func TestMiddleware_FailedProbeStatusOnSpan(t *testing.T) {
	exp := setupTracing(t)
	m, _ := newTestMetrics(t)

	rec := serveOnce(m, httptest.NewRequest("GET", "/readyz", nil),
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("response status = %d, want 503", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != 503 {
		t.Errorf("span status_code attribute = %d, want 503", status)
	}
}

func TestMiddleware_DurationMetric(t *testing.T) {
	setupTracing(t)
	m, reader := newTestMetrics(t)

	serveOnce(m, httptest.NewRequest("GET", "/metrics", nil), okHandler)

	rm := collect(t, reader)
	dp := histPoint(t, rm, "hushwire.http.request.duration")
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := []attribute.KeyValue{Attr("method", "GET"), Attr("path", "/metrics")}
	if !hasAttrs(dp.Attributes, want) {
		t.Errorf("attributes = %v, want method=GET path=/metrics", dp.Attributes.ToSlice())
	}
}

func TestMiddleware_JoinsIncomingTrace(t *testing.T) {
	setupTracing(t)
	m, _ := newTestMetrics(t)

	const upstream = "7c2e4f9ab13d86e05a447bd21c09f3aa"
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")

	var inHandler string
	rec := serveOnce(m, req, func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	if inHandler != upstream {
		t.Errorf("handler trace ID = %q, want upstream %q", inHandler, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want upstream %q", got, upstream)
	}
}
