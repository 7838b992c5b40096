package util

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestIDPropagatesIncomingHeader(t *testing.T) {
	const incoming = "req-incoming-123"
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromContext(r.Context()); got != incoming {
			t.Fatalf("unexpected request id in context: got %q want %q", got, incoming)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", incoming)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != incoming {
		t.Fatalf("unexpected response request id: got %q want %q", got, incoming)
	}
}

func TestWithRequestIDGeneratesWhenMissing(t *testing.T) {
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromContext(r.Context()); got == "" {
			t.Fatal("expected generated request id in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got == "" {
		t.Fatal("expected generated request id header")
	}
}

func TestWithRequestIDReplacesUnusableHeader(t *testing.T) {
	for _, incoming := range []string{strings.Repeat("a", 200), "has space", "tab\tid"} {
		var seen string
		handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-Id", incoming)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seen == "" || seen == incoming {
			t.Fatalf("expected generated id for %q, got %q", incoming, seen)
		}
		if got := rec.Header().Get("X-Request-Id"); got != seen {
			t.Fatalf("response header %q does not match context id %q", got, seen)
		}
	}
}

func TestWithRequestIDInjectsLogger(t *testing.T) {
	var buf bytes.Buffer
	initLogger(&buf, "info")
	defer slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LoggerFromContext(r.Context()).Info("inside")
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-log-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"request_id":"req-log-1"`) {
		t.Fatalf("expected request_id in log line, got %s", buf.String())
	}
}

func TestRequestLogCarriesRequestIDOnce(t *testing.T) {
	var buf bytes.Buffer
	initLogger(&buf, "info")
	defer slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	handler := WithRequestID(WithRequestLog("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))
	req := httptest.NewRequest(http.MethodPost, "/api/register", nil)
	req.Header.Set("X-Request-Id", "req-log-2")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	if !strings.Contains(line, `"msg":"http_request"`) || !strings.Contains(line, `"status":201`) {
		t.Fatalf("expected http_request line, got %s", line)
	}
	if n := strings.Count(line, `"request_id"`); n != 1 {
		t.Fatalf("request_id should appear once, got %d in %s", n, line)
	}
}
