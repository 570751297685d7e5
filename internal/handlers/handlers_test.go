package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthCheck(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestDailyCronSyncRejectsBadSecret(t *testing.T) {
	h := NewSyncHandler(nil, nil, "expected-secret")
	r := gin.New()
	r.POST("/cron/daily-sync", h.DailyCronSync)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong secret", "wrong"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/cron/daily-sync", nil)
			if c.header != "" {
				req.Header.Set("X-Cron-Secret", c.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestDailyCronSyncRejectsWhenSecretUnset(t *testing.T) {
	// An empty configured secret must fail closed, not open.
	h := NewSyncHandler(nil, nil, "")
	r := gin.New()
	r.POST("/cron/daily-sync", h.DailyCronSync)

	req := httptest.NewRequest(http.MethodPost, "/cron/daily-sync", nil)
	req.Header.Set("X-Cron-Secret", "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireUserRejectsBadHeader(t *testing.T) {
	r := gin.New()
	r.Use(RequireUser(nil))
	r.POST("/sync", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not a number", "abc"},
		{"negative", "-1"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sync", nil)
			if c.header != "" {
				req.Header.Set("X-User-ID", c.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}
