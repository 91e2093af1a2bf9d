package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	t.Run("production writes JSON at info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger("production", &buf)
		logger.Debug("hidden")
		logger.Info("visible", "key", "value")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "visible", entry["msg"])
		assert.Equal(t, "value", entry["key"])
		assert.Equal(t, "attempt-tracking-service", entry["service"])
	})

	t.Run("development writes text at debug", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger("development", &buf).Debug("shown")
		assert.Contains(t, buf.String(), "msg=shown")
	})

	t.Run("LOG_LEVEL overrides", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "error")
		var buf bytes.Buffer
		NewLogger("development", &buf).Warn("dropped")
		assert.Empty(t, buf.String())
	})
}

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	router := gin.New()
	router.Use(LoggerMiddleware(logger))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/api/v1/attempts/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String(), "health checks are not logged")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/attempts/x", nil))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status_code"])
	assert.Equal(t, "/api/v1/attempts/x", entry["path"])
}
