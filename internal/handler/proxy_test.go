package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"legacy-site-proxy/internal/client"
	"legacy-site-proxy/internal/config"
	"legacy-site-proxy/internal/registry"
	"legacy-site-proxy/internal/rewrite"
	"legacy-site-proxy/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandler wires a ProxyHandler whose single site proxies the
// given origin server.
func newTestHandler(t *testing.T, originURL, prefix, pathPrefix, encoding string) *ProxyHandler {
	t.Helper()
	host := strings.TrimPrefix(originURL, "http://")
	reg, err := registry.New(&config.Config{Sites: []config.Site{
		{Prefix: prefix, OriginHost: host, OriginPathPrefix: pathPrefix, Encoding: encoding},
	}})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	cfg := &config.Config{
		Origin: config.OriginConfig{TimeoutSeconds: 10, IdleConnections: 10},
	}
	logger := discardLogger()
	oc := client.NewOriginClient(cfg, logger, nil)
	svc := service.NewProxyService(oc, reg, rewrite.NewRewriter(reg), logger, nil)
	return NewProxyHandler(svc, logger)
}

func TestProxyHandler_Handle_RewritesHTML(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/st/index.html" {
			t.Errorf("origin path = %q, want %q", r.URL.Path, "/st/index.html")
		}
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><head></head><body><a href=\"page2.html\">caf\xe9</a></body></html>"))
	}))
	defer origin.Close()

	h := newTestHandler(t, origin.URL, "st", "st", "iso-8859-1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/st/index.html", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/html; charset=utf-8")
	}
	body := rec.Body.String()
	if !strings.Contains(body, `<a href="/st/page2.html">`) {
		t.Errorf("body = %q, want rewritten link", body)
	}
	if !strings.Contains(body, "café") {
		t.Errorf("body = %q, want decoded UTF-8 text", body)
	}
}

func TestProxyHandler_Handle_UnknownPrefix(t *testing.T) {
	h := newTestHandler(t, "http://127.0.0.1:1", "st", "st", "iso-8859-1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/nope/page.html", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected non-empty error message in response")
	}
}

func TestProxyHandler_Handle_POST(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("received: " + string(body)))
	}))
	defer origin.Close()

	h := newTestHandler(t, origin.URL, "st", "st", "iso-8859-1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/st/login.php", strings.NewReader("user=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != "received: user=x" {
		t.Errorf("body = %q, want %q", got, "received: user=x")
	}
}

func TestProxyHandler_Handle_RelaysOriginStatus(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html><body>not here</body></html>"))
	}))
	defer origin.Close()

	h := newTestHandler(t, origin.URL, "st", "st", "iso-8859-1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/st/gone.html", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want origin's %d relayed", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), "not here") {
		t.Errorf("body = %q, want origin error page relayed", rec.Body.String())
	}
}

func TestProxyHandler_Handle_CanceledContext(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Wait until client context is done.
		<-r.Context().Done()
	}))
	defer origin.Close()

	h := newTestHandler(t, origin.URL, "st", "st", "iso-8859-1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/st/slow.html", http.NoBody)
	// Create a pre-canceled context to simulate client disconnect.
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// Should get a 502/504 error response, not 200.
	if rec.Code == http.StatusOK {
		t.Error("expected non-200 status for canceled context")
	}
}

func TestProxyHandler_mapError_Timeout(t *testing.T) {
	h := &ProxyHandler{logger: discardLogger()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/st/page.html", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	wrapped := fmt.Errorf("reach origin salafitalk.net: %w", context.DeadlineExceeded)
	if err := h.mapError(c, wrapped); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "origin request timed out" {
		t.Errorf("error = %q, want %q", body["error"], "origin request timed out")
	}
}

func TestProxyHandler_mapError_DecodeError(t *testing.T) {
	h := &ProxyHandler{logger: discardLogger()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/sm/page.html", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	decodeErr := &service.DecodeError{
		Prefix:   "sm",
		Encoding: "windows-1256",
		Err:      fmt.Errorf("transform: short input"),
	}
	if err := h.mapError(c, decodeErr); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(body["error"], "windows-1256") {
		t.Errorf("error = %q, want mention of the site encoding", body["error"])
	}
}

func TestProxyHandler_mapError_TransportError(t *testing.T) {
	h := &ProxyHandler{logger: discardLogger()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/st/page.html", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	wrapped := fmt.Errorf("reach origin salafitalk.net: connection refused")
	if err := h.mapError(c, wrapped); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(body["error"], "connection refused") {
		t.Errorf("error = %q, want the transport error text", body["error"])
	}
}
