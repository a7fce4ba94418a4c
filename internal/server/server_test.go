package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRedactURI(t *testing.T) {
	t.Parallel()

	cases := []struct {
		uri  string
		want string
	}{
		{uri: "/webhook/bot-1", want: "/webhook/bot-1"},
		{uri: "/webhook/bot-1?token=abc", want: "/webhook/bot-1"},
		{uri: "/?", want: "/"},
	}
	for _, tc := range cases {
		if got := redactURI(tc.uri); got != tc.want {
			t.Fatalf("uri=%q want=%q got=%q", tc.uri, tc.want, got)
		}
	}
}

type staticHandler struct{}

func (staticHandler) Register(e *echo.Echo) {
	e.GET("/hello", func(c echo.Context) error { return c.String(http.StatusOK, "hi") })
	e.GET("/panic", func(echo.Context) error { panic("boom") })
}

func TestNewServer_RegistersHandlersAndRecovers(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, "", staticHandler{}, nil)
	if srv.addr != DefaultAddr {
		t.Fatalf("unexpected addr: %q", srv.addr)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "hi" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected recovered panic, got %d", rec.Code)
	}
}
