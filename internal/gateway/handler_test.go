// internal/gateway/handler_test.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens-gateway/internal/cache"
	"datalens-gateway/internal/common/auth"
	apperrors "datalens-gateway/internal/common/errors"
	"datalens-gateway/internal/common/logger"
	"datalens-gateway/internal/common/observability"
	"datalens-gateway/internal/models"
	"datalens-gateway/internal/ratelimit"
)

// memoryStore is an in-process CounterStore for handler tests.
type memoryStore struct {
	counts map[string]int
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{counts: map[string]int{}}
}

func (s *memoryStore) IncrementIfBelow(_ context.Context, bucket, monthKey string, limit int) (int, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	key := bucket + "|" + monthKey
	if s.counts[key] >= limit {
		return s.counts[key], false, nil
	}
	s.counts[key]++
	return s.counts[key], true, nil
}

func testResult() *models.QueryResult {
	return &models.QueryResult{
		Answer:  &models.AnswerCard{Title: "Population", Value: float64(100)},
		Sources: []models.SourceLink{{Label: "Data Commons", URL: "https://datacommons.org"}},
	}
}

type handlerEnv struct {
	router *gin.Engine
	store  *memoryStore
	calls  atomic.Int32
}

func newHandlerEnv(t *testing.T, query QueryFunc) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &handlerEnv{store: newMemoryStore()}
	if query == nil {
		query = func(ctx context.Context, q string, mode models.QueryMode) (*models.QueryResult, error) {
			env.calls.Add(1)
			return testResult(), nil
		}
	}

	handler := NewHandler(
		NewIdentityResolver(auth.NewTokenVerifier("test-secret", "")),
		ratelimit.NewLimiter(env.store, 10),
		cache.NewCoordinator(time.Hour),
		query,
		&observability.Observability{},
		logger.NewTestLogger(t),
	)

	env.router = gin.New()
	env.router.GET("/api/health", handler.Health)
	env.router.POST("/api/query", handler.Query)
	return env
}

func (env *handlerEnv) post(body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:51234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	env := newHandlerEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok": true}`, rec.Body.String())
}

func TestQueryRejectsInvalidBody(t *testing.T) {
	env := newHandlerEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"missing q", `{"mode": "analytical"}`},
		{"empty q", `{"q": ""}`},
		{"bad mode", `{"q": "population", "mode": "wild"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.post(tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "invalid_body", body["error"])
			assert.NotEmpty(t, body["details"])
			assert.NotEmpty(t, body["correlationId"])
		})
	}
	assert.Zero(t, env.calls.Load())
}

func TestQuerySuccessAndCacheFlag(t *testing.T) {
	env := newHandlerEnv(t, nil)

	first := env.post(`{"q": "Population   of  JAPAN"}`, nil)
	require.Equal(t, http.StatusOK, first.Code)

	var firstBody map[string]interface{}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstBody))
	assert.NotContains(t, firstBody, "_cache")
	assert.Equal(t, "Population", firstBody["answer"].(map[string]interface{})["title"])

	// Same query after normalization, different raw spelling.
	second := env.post(`{"q": "population of japan"}`, nil)
	require.Equal(t, http.StatusOK, second.Code)

	var secondBody map[string]interface{}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondBody))
	assert.Equal(t, true, secondBody["_cache"])

	assert.Equal(t, int32(1), env.calls.Load())
}

func TestQueryModeSeparatesCacheEntries(t *testing.T) {
	env := newHandlerEnv(t, nil)

	env.post(`{"q": "population of japan"}`, nil)
	env.post(`{"q": "population of japan", "mode": "analytical"}`, nil)

	assert.Equal(t, int32(2), env.calls.Load())
}

func TestQueryRateLimitBoundary(t *testing.T) {
	env := newHandlerEnv(t, nil)

	for i := 0; i < 10; i++ {
		rec := env.post(`{"q": "population of japan"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := env.post(`{"q": "population of japan"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, float64(0), body["remaining"])
	assert.NotEmpty(t, body["correlationId"])

	// The quota stays closed for the rest of the month.
	assert.Equal(t, http.StatusTooManyRequests, env.post(`{"q": "population of japan"}`, nil).Code)

	// Rejected attempts do not grow the stored counter.
	assert.Equal(t, 10, env.store.counts["ip:198.51.100.7|"+time.Now().UTC().Format("2006-01")])
}

func TestQueryBucketsSeparateByIdentity(t *testing.T) {
	env := newHandlerEnv(t, nil)

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, env.post(`{"q": "population of japan"}`, nil).Code)
	}
	require.Equal(t, http.StatusTooManyRequests, env.post(`{"q": "population of japan"}`, nil).Code)

	// A different client address gets its own quota.
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"q": "population of japan"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.9:40000"
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryCounterStoreFailureIsInternal(t *testing.T) {
	env := newHandlerEnv(t, nil)
	env.store.err = errors.New("connection refused")

	rec := env.post(`{"q": "population of japan"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["error"])
	assert.NotEmpty(t, body["correlationId"])
}

func TestQueryUpstreamFailureIsBadGateway(t *testing.T) {
	env := newHandlerEnv(t, func(ctx context.Context, q string, mode models.QueryMode) (*models.QueryResult, error) {
		return nil, apperrors.NewUpstreamCallFailedError(errors.New("both endpoints exhausted"))
	})

	rec := env.post(`{"q": "population of japan"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "upstream_unavailable", body["error"])
}

func TestQueryFailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	env := newHandlerEnv(t, func(ctx context.Context, q string, mode models.QueryMode) (*models.QueryResult, error) {
		if calls.Add(1) == 1 {
			return nil, apperrors.NewUpstreamCallFailedError(errors.New("transient"))
		}
		return testResult(), nil
	})

	require.Equal(t, http.StatusBadGateway, env.post(`{"q": "population of japan"}`, nil).Code)
	require.Equal(t, http.StatusOK, env.post(`{"q": "population of japan"}`, nil).Code)
	assert.Equal(t, int32(2), calls.Load())
}
