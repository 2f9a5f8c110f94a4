package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"legacy-site-proxy/internal/config"
	"legacy-site-proxy/internal/registry"
)

func parityRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(&config.Config{Sites: []config.Site{
		{Prefix: "st", OriginHost: "salafitalk.net", OriginPathPrefix: "st", Encoding: "iso-8859-1"},
		{Prefix: "sm", OriginHost: "sahihmuslim.com", OriginPathPrefix: "sps/smm", Encoding: "windows-1256"},
		{Prefix: "sc", OriginHost: "salafitalk.com", OriginPathPrefix: "", Encoding: "iso-8859-1"},
	}})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return reg
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(parityRegistry(t), "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(parityRegistry(t), "1.2.3")
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Status  string   `json:"status"`
		Version string   `json:"version"`
		Sites   []string `json:"sites"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("body.status = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.2.3" {
		t.Errorf("body.version = %q, want %q", body.Version, "1.2.3")
	}
	want := []string{"st", "sm", "sc"}
	if len(body.Sites) != len(want) {
		t.Fatalf("body.sites = %v, want %v", body.Sites, want)
	}
	for i, p := range want {
		if body.Sites[i] != p {
			t.Errorf("body.sites[%d] = %q, want %q", i, body.Sites[i], p)
		}
	}
}
