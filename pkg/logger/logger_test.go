package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewWithOptions_DebugInDev(t *testing.T) {
	l, closer := NewWithOptions(Options{Env: "dev"})
	defer closer.Close()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("expected debug enabled in dev")
	}

	l, _ = NewWithOptions(Options{Env: "prod"})
	if l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("expected debug disabled in prod")
	}
}

func TestNewWithOptions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.log")
	l, closer := NewWithOptions(Options{Env: "prod", File: path})
	l.Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMiddleware_PropagatesRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(slog.Default()))

	var fromCtx, fromGin *slog.Logger
	r.GET("/x", func(c *gin.Context) {
		fromCtx = From(c.Request.Context())
		fromGin = FromGin(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) != "rid-1" {
		t.Fatalf("expected request id echoed")
	}
	if fromCtx == nil || fromCtx != fromGin {
		t.Fatalf("expected same request logger in gin and request context")
	}
}

func TestMiddleware_QuietRoutesLogAtDebug(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := gin.New()
	r.Use(Middleware(l, "/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	levels := func(path string) string {
		buf.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		var line struct {
			Level string `json:"level"`
			Path  string `json:"path"`
		}
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("decode %q: %v", buf.String(), err)
		}
		if line.Path != path {
			t.Fatalf("path = %q, want %q", line.Path, path)
		}
		return line.Level
	}

	if got := levels("/healthz"); got != "DEBUG" {
		t.Fatalf("healthz level = %s", got)
	}
	if got := levels("/v1/me"); got != "INFO" {
		t.Fatalf("me level = %s", got)
	}
}
