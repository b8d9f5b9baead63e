package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"webrelay/internal/metrics"
)

// requestLabels returns the label sets recorded on webrelay_http_requests_total.
func requestLabels(t *testing.T, m *metrics.Metrics) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var out []map[string]string
	for _, f := range families {
		if f.GetName() != "webrelay_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out = append(out, labels)
		}
	}
	return out
}

func serveWithMetrics(m *metrics.Metrics, method, path string, register func(e *echo.Echo)) *httptest.ResponseRecorder {
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	register(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func TestMetricsMiddleware_Labels(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		handler    echo.HandlerFunc
		wantPrefix string
		wantMethod string
		wantStatus string
	}{
		{
			name:   "proxy success",
			method: http.MethodGet,
			path:   "/api/proxy?url=https%3A%2F%2Fexample.com",
			handler: func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			},
			wantPrefix: "/api/proxy", wantMethod: "GET", wantStatus: "200",
		},
		{
			name:   "handler wrote upstream status",
			method: http.MethodGet,
			path:   "/api/resource?url=x",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusBadGateway, map[string]string{"kind": "canceled"})
			},
			wantPrefix: "/api/resource", wantMethod: "GET", wantStatus: "502",
		},
		{
			name:   "http error",
			method: http.MethodGet,
			path:   "/api/proxy",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusNotFound, "not found")
			},
			wantPrefix: "/api/proxy", wantMethod: "GET", wantStatus: "404",
		},
		{
			name:   "plain error",
			method: http.MethodGet,
			path:   "/api/proxy",
			handler: func(c echo.Context) error {
				return errors.New("boom")
			},
			wantPrefix: "/api/proxy", wantMethod: "GET", wantStatus: "500",
		},
		{
			name:   "unknown method",
			method: "XYZZY",
			path:   "/api/proxy",
			handler: func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			},
			wantPrefix: "/api/proxy", wantMethod: "other", wantStatus: "200",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			serveWithMetrics(m, tt.method, tt.path, func(e *echo.Echo) {
				e.Add(tt.method, "/api/proxy", tt.handler)
				e.Add(tt.method, "/api/resource", tt.handler)
			})

			got := requestLabels(t, m)
			if len(got) != 1 {
				t.Fatalf("recorded %d series, want 1", len(got))
			}
			if got[0]["path_prefix"] != tt.wantPrefix {
				t.Errorf("path_prefix = %q, want %q", got[0]["path_prefix"], tt.wantPrefix)
			}
			if got[0]["method"] != tt.wantMethod {
				t.Errorf("method = %q, want %q", got[0]["method"], tt.wantMethod)
			}
			if got[0]["status_code"] != tt.wantStatus {
				t.Errorf("status_code = %q, want %q", got[0]["status_code"], tt.wantStatus)
			}
		})
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	rec := serveWithMetrics(m, http.MethodGet, "/nonexistent", func(*echo.Echo) {})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	got := requestLabels(t, m)
	if len(got) != 1 || got[0]["path_prefix"] != "other" || got[0]["status_code"] != "404" {
		t.Errorf("labels = %v, want path_prefix=other status_code=404", got)
	}
}

func TestMetricsMiddleware_MethodNotAllowed(t *testing.T) {
	m := metrics.New()

	rec := serveWithMetrics(m, "XYZZY", "/api/proxy", func(e *echo.Echo) {
		e.GET("/api/proxy", func(c echo.Context) error {
			return c.String(http.StatusOK, "ok")
		})
	})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}

	got := requestLabels(t, m)
	if len(got) != 1 || got[0]["method"] != "other" || got[0]["status_code"] != "405" {
		t.Errorf("labels = %v, want method=other status_code=405", got)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	serveWithMetrics(m, http.MethodGet, "/healthz", func(e *echo.Echo) {
		e.GET("/healthz", func(c echo.Context) error {
			return c.String(http.StatusOK, "ok")
		})
	})

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "webrelay_http_request_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			if metric.GetHistogram().GetSampleCount() > 0 {
				return
			}
		}
	}
	t.Error("expected webrelay_http_request_duration_seconds with at least one sample")
}
