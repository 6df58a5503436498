package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestLoggerWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json"}, &buf)
	handler := requestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("dup"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/acquisitions", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "http request", entry["msg"])
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, "/api/v1/acquisitions", entry["path"])
	require.Equal(t, float64(http.StatusConflict), entry["status"])
	require.Equal(t, float64(3), entry["bytes"])
}

func TestRateLimitReturnsProblem(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{RateLimitPerMinute: 1}})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "application/problem+json", second.Header().Get("Content-Type"))
}
