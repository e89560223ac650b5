// internal/gateway/handler.go
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"datalens-gateway/internal/cache"
	apperrors "datalens-gateway/internal/common/errors"
	"datalens-gateway/internal/common/logger"
	"datalens-gateway/internal/common/metrics"
	"datalens-gateway/internal/common/observability"
	"datalens-gateway/internal/models"
	"datalens-gateway/internal/ratelimit"
)

// QueryFunc is the upstream computation the orchestrator schedules through
// the cache coordinator.
type QueryFunc func(ctx context.Context, q string, mode models.QueryMode) (*models.QueryResult, error)

// Handler sequences rate limit, cache lookup, single-flight, upstream query
// and cache store for each incoming request.
type Handler struct {
	identity    *IdentityResolver
	limiter     *ratelimit.Limiter
	coordinator *cache.Coordinator
	query       QueryFunc
	obs         *observability.Observability
	logger      logger.Logger
}

func NewHandler(identity *IdentityResolver, limiter *ratelimit.Limiter, coordinator *cache.Coordinator, query QueryFunc, obs *observability.Observability, log logger.Logger) *Handler {
	return &Handler{
		identity:    identity,
		limiter:     limiter,
		coordinator: coordinator,
		query:       query,
		obs:         obs,
		logger:      log.With(map[string]interface{}{"component": "gateway"}),
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Query handles POST /api/query.
func (h *Handler) Query(c *gin.Context) {
	correlationID := uuid.NewString()
	started := time.Now()
	log := h.logger.With(map[string]interface{}{"correlationId": correlationID})

	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.NewInvalidRequestError(err.Error()), correlationID, started)
		return
	}

	bucket := h.identity.ResolveBucket(c.Request)

	rl, err := h.limiter.Check(c.Request.Context(), bucket)
	if err != nil {
		log.WithError(err).Error("usage counter transaction failed", nil)
		h.respondError(c, err, correlationID, started)
		return
	}
	if !rl.Allowed {
		metrics.RateLimited.Inc()
		h.respondError(c, apperrors.NewRateLimitedError(rl.Remaining), correlationID, started)
		return
	}

	normalized := models.NormalizeQueryString(req.Q)
	key := models.CacheKey(normalized, req.Mode)

	result, fromCache, err := h.coordinator.Do(c.Request.Context(), key, func() (*models.QueryResult, error) {
		// Detached from the request context: the computation is shared
		// with concurrent callers of the same key, so one client
		// disconnecting must not poison the result for the rest.
		return h.query(context.Background(), normalized, req.Mode)
	})
	if err != nil {
		log.WithError(err).Error("query failed", map[string]interface{}{
			"bucket": bucket,
			"key":    key,
		})
		h.respondError(c, err, correlationID, started)
		return
	}

	if fromCache {
		metrics.CacheHits.WithLabelValues("hit").Inc()
	} else {
		metrics.CacheHits.WithLabelValues("miss").Inc()
	}

	h.record(c, "success", started)
	log.Info("query served", map[string]interface{}{
		"bucket":    bucket,
		"key":       key,
		"cached":    fromCache,
		"remaining": rl.Remaining,
	})

	if fromCache {
		c.JSON(http.StatusOK, withCacheFlag(result))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) respondError(c *gin.Context, err error, correlationID string, started time.Time) {
	status, body := apperrors.ToResponse(err, correlationID)
	outcome := apperrors.GetErrorCategory(apperrors.Normalize(err).Code)
	h.record(c, outcome, started)
	c.JSON(status, body)
}

func (h *Handler) record(c *gin.Context, outcome string, started time.Time) {
	elapsed := time.Since(started)
	metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	metrics.QueryDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	h.obs.RecordQueryProcessed(c.Request.Context(), outcome)
	h.obs.RecordQueryDuration(c.Request.Context(), elapsed, outcome)
}

// withCacheFlag appends the non-schema _cache marker to a result served from
// cache without mutating the cached value.
func withCacheFlag(result *models.QueryResult) map[string]interface{} {
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]interface{}{"_cache": true}
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"_cache": true}
	}
	out["_cache"] = true
	return out
}
