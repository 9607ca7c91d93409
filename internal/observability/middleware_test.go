package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/smfaaa/internal/testutil/testlog"
)

func TestRequestIDAndLoggerMiddleware(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestID(), RequestLogger(zerolog.New(&buf)), RequestMetricsMiddleware("smf-test"))
	r.GET("/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status got=%d", rec.Code)
	}
	id := rec.Header().Get(RequestIDHeader)
	if len(id) != 26 {
		t.Fatalf("expected ulid request id, got %q", id)
	}
	line := buf.String()
	if !strings.Contains(line, `"path":"/sessions/:id"`) || !strings.Contains(line, `"level":"warn"`) {
		t.Fatalf("unexpected log line: %s", line)
	}
	if !strings.Contains(line, id) {
		t.Fatalf("log line missing request id: %s", line)
	}
}

func TestRequestIDPreservesCallerHeader(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestID())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "caller-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "caller-1" {
		t.Fatalf("request id got=%q", got)
	}
}
