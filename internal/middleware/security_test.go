package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders_AddsHeaders(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
	}{
		{
			name: "success",
			handler: func(c echo.Context) error {
				return c.HTMLBlob(http.StatusOK, []byte("<p>ok</p>"))
			},
		},
		{
			name: "error response",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusBadRequest, "bad")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.Use(SecurityHeaders())
			e.GET("/api/proxy", tt.handler)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/proxy", http.NoBody))

			if v := rec.Header().Get("X-Content-Type-Options"); v != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q, want %q", v, "nosniff")
			}
			if v := rec.Header().Get("X-Frame-Options"); v != "SAMEORIGIN" {
				t.Errorf("X-Frame-Options = %q, want %q", v, "SAMEORIGIN")
			}
		})
	}
}

func TestSecurityHeaders_StripsHopByHop(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())

	var got http.Header
	e.GET("/test", func(c echo.Context) error {
		got = c.Request().Header.Clone()
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Connection", "keep-alive, X-Hop")
	req.Header.Set("X-Hop", "1")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Accept-Language", "en")
	e.ServeHTTP(httptest.NewRecorder(), req)

	for _, name := range []string{"Connection", "X-Hop", "Proxy-Authorization"} {
		if v := got.Get(name); v != "" {
			t.Errorf("%s should be stripped, got %q", name, v)
		}
	}
	if v := got.Get("Accept-Language"); v != "en" {
		t.Errorf("Accept-Language = %q, want %q", v, "en")
	}
}
