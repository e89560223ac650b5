// internal/upstream/caller.go
package upstream

import (
	"context"
	"time"

	apperrors "datalens-gateway/internal/common/errors"
	"datalens-gateway/internal/common/logger"
	"datalens-gateway/internal/common/metrics"
)

// Caller wraps Transport with a fixed retry budget and linear backoff. Every
// transport failure (timeout, non-2xx, malformed body) consumes one attempt;
// the transport is invoked at most budget+1 times.
type Caller struct {
	transport   *Transport
	backoffStep time.Duration
	logger      logger.Logger
}

func NewCaller(transport *Transport, backoffStep time.Duration, log logger.Logger) *Caller {
	if backoffStep <= 0 {
		backoffStep = 300 * time.Millisecond
	}
	return &Caller{
		transport:   transport,
		backoffStep: backoffStep,
		logger:      log,
	}
}

// Call invokes the transport with up to retries additional attempts after the
// first. Backoff before attempt n is backoffStep * n. The call label only
// feeds logs and metrics.
func (c *Caller) Call(ctx context.Context, call, endpoint string, payload interface{}, timeout time.Duration, retries int) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			metrics.UpstreamRetries.WithLabelValues(call).Inc()
			select {
			case <-time.After(c.backoffStep * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, apperrors.NewUpstreamTimeoutError(endpoint)
			}
		}

		result, err := c.transport.Call(ctx, endpoint, payload, timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// The caller's own context expiring ends the budget early; the
		// per-attempt deadline does not.
		if ctx.Err() != nil {
			break
		}

		c.logger.Warn("upstream call attempt failed", map[string]interface{}{
			"call":     call,
			"endpoint": endpoint,
			"attempt":  attempt + 1,
			"error":    err.Error(),
		})
	}

	return nil, lastErr
}
