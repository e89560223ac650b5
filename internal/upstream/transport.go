// internal/upstream/transport.go
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "datalens-gateway/internal/common/errors"
)

// sseDataPrefix marks the line carrying the JSON payload in an event-stream
// framed response.
const sseDataPrefix = "data: "

// Transport performs a single bounded-timeout HTTP call against the upstream
// query service and decodes either a plain JSON body or an event-stream body
// carrying one JSON payload.
type Transport struct {
	client *http.Client
}

func NewTransport() *Transport {
	// Per-call deadlines come from the context; no client-wide timeout.
	return &Transport{client: &http.Client{}}
}

// newToolCall builds the JSON-RPC envelope the upstream expects.
func newToolCall(tool string, args map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      tool,
			"arguments": args,
		},
		"id": uuid.NewString()[:8],
	}
}

// Call posts payload to endpoint with the given timeout and returns the
// decoded response payload. The timeout cancels the underlying transport
// operation, not just the local wait.
func (t *Transport) Call(ctx context.Context, endpoint string, payload interface{}, timeout time.Duration) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewUpstreamCallFailedError(fmt.Errorf("encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewUpstreamCallFailedError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewUpstreamTimeoutError(endpoint)
		}
		return nil, apperrors.NewUpstreamCallFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewUpstreamCallFailedError(fmt.Errorf("upstream HTTP %d from %s", resp.StatusCode, endpoint))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		return decodeEventStream(resp)
	}

	var decoded interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewUpstreamTimeoutError(endpoint)
		}
		return nil, apperrors.NewUpstreamBadPayloadError(err)
	}
	return decoded, nil
}

// decodeEventStream extracts the one JSON payload from an SSE-framed body,
// e.g. "event: message\ndata: {...}\n\n".
func decodeEventStream(resp *http.Response) (interface{}, error) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(line[len(sseDataPrefix):]), &decoded); err != nil {
			return nil, apperrors.NewUpstreamBadPayloadError(err)
		}
		return decoded, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.NewUpstreamBadPayloadError(err)
	}
	return nil, apperrors.NewUpstreamBadPayloadError(errors.New("no data line in event-stream response"))
}
