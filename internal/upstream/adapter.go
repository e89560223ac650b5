// Package upstream adapts the gateway to an upstream query service whose
// response shape is not contractually fixed. The adapter interprets the query
// heuristically, issues retrying, timeout-bounded calls, and normalizes
// whatever comes back into the canonical QueryResult shape.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datalens-gateway/internal/common/config"
	apperrors "datalens-gateway/internal/common/errors"
	"datalens-gateway/internal/common/logger"
	"datalens-gateway/internal/common/validation"
	"datalens-gateway/internal/models"
)

const (
	searchTool = "search_indicators"
	dataTool   = "get_observations"
)

// Adapter turns a normalized query string plus an optional mode into a
// QueryResult. Upstream-reported errors and unrecognized payload shapes are
// absorbed here and never escape as failures; only transport exhaustion on
// both the primary and fallback endpoints propagates.
type Adapter struct {
	caller    *Caller
	validator *validation.QueryResultValidator
	degraded  DegradedProvider
	cfg       config.UpstreamConfig
	logger    logger.Logger
}

func NewAdapter(caller *Caller, validator *validation.QueryResultValidator, degraded DegradedProvider, cfg config.UpstreamConfig, log logger.Logger) *Adapter {
	return &Adapter{
		caller:    caller,
		validator: validator,
		degraded:  degraded,
		cfg:       cfg,
		logger:    log.With(map[string]interface{}{"component": "upstream-adapter"}),
	}
}

// Query runs the full call sequence for a normalized query string.
func (a *Adapter) Query(ctx context.Context, q string, mode models.QueryMode) (*models.QueryResult, error) {
	entity := InterpretEntity(q)
	topic := InterpretTopic(q)

	a.logger.Info("query interpreted", map[string]interface{}{
		"query":  q,
		"mode":   string(mode),
		"entity": entity.Name,
		"topic":  topic,
	})

	searchResult, err := a.search(ctx, topic, entity)
	if err != nil {
		return nil, err
	}

	// Upstream-reported errors are intercepted and substituted with a
	// degraded result, never propagated.
	if detail, reported := a.upstreamReportedError(searchResult); reported {
		a.logger.WithError(apperrors.NewUpstreamReportedError(detail)).Warn(
			"upstream reported an error, serving degraded result",
			map[string]interface{}{"entity": entity.Name},
		)
		return a.degraded.Provide(entity), nil
	}

	searchData := parseSearchData(searchResult)

	// Variant A: the upstream already returned the canonical shape.
	if result, ok := decodeCanonical(a.validator, searchData); ok {
		return result, nil
	}
	if result, ok := decodeCanonical(a.validator, searchResult); ok {
		return result, nil
	}

	// Variant B: candidate-variable list, worth a follow-up data call.
	if vl, ok := decodeVariableList(searchData); ok {
		return a.fetchObservations(ctx, vl, entity, searchData), nil
	}

	// Fall through to generic field scraping; never fails.
	return scrapeFields(searchData, searchResult), nil
}

// search issues the search call to the primary endpoint with the full retry
// budget, then falls back once to the bare base endpoint with no retries.
func (a *Adapter) search(ctx context.Context, topic string, entity Entity) (interface{}, error) {
	payload := newToolCall(searchTool, map[string]interface{}{
		"query":          topic,
		"places":         []string{entity.Name},
		"include_topics": false,
	})

	base := strings.TrimSuffix(a.cfg.BaseURL, "/")
	result, err := a.caller.Call(ctx, "search", base+"/mcp", payload, a.cfg.SearchTimeoutDuration(), a.cfg.SearchMaxRetries)
	if err == nil {
		return result, nil
	}

	a.logger.Warn("primary search endpoint exhausted, trying fallback", map[string]interface{}{
		"error": err.Error(),
	})

	result, err = a.caller.Call(ctx, "search-fallback", a.cfg.BaseURL, payload, a.cfg.SearchTimeoutDuration(), 0)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fetchObservations issues the follow-up data call for the preferred variable
// and builds the chart result. Failure or an unrecognized shape degrades to
// the candidate-count card, not an error.
func (a *Adapter) fetchObservations(ctx context.Context, vl *variableList, entity Entity, searchData interface{}) *models.QueryResult {
	mainVar := vl.preferredVariable()
	varName := vl.displayName(mainVar)

	payload := newToolCall(dataTool, map[string]interface{}{
		"variable_dcid": mainVar.DCID,
		"place_dcid":    entity.DCID,
	})

	base := strings.TrimSuffix(a.cfg.BaseURL, "/")
	dataResult, err := a.caller.Call(ctx, "data", base+"/mcp", payload, a.cfg.DataTimeoutDuration(), a.cfg.DataMaxRetries)
	if err != nil {
		a.logger.Warn("follow-up data call failed, returning variable count", map[string]interface{}{
			"variable": mainVar.DCID,
			"error":    err.Error(),
		})
		return variableCountResult(vl, varName, entity, searchData)
	}

	dataResponse := parseSearchData(dataResult)
	if obs, ok := decodeTimeSeries(dataResponse); ok {
		return buildSeriesResult(obs, varName, entity, searchData, dataResponse)
	}

	return variableCountResult(vl, varName, entity, searchData)
}

// upstreamReportedError detects errors the upstream embedded in an otherwise
// well-formed response: a top-level error field, an error inside raw, or a
// configured trigger substring in the content text.
func (a *Adapter) upstreamReportedError(searchResult interface{}) (string, bool) {
	if e := probe(searchResult, "error"); e != nil {
		return fmt.Sprintf("%v", e), true
	}
	if e := probe(searchResult, "raw", "error"); e != nil {
		return fmt.Sprintf("%v", e), true
	}
	if text, ok := extractContentText(searchResult); ok {
		for _, trigger := range a.cfg.DegradedTriggers {
			if strings.Contains(text, trigger) {
				return text, true
			}
		}
	}
	return "", false
}

// extractContentText probes the result.content[0].text path of a tool-call
// response.
func extractContentText(payload interface{}) (string, bool) {
	content, ok := probe(payload, "result", "content").([]interface{})
	if !ok || len(content) == 0 {
		return "", false
	}
	text, ok := probe(content[0], "text").(string)
	return text, ok
}

// parseSearchData extracts the embedded JSON document from a tool-call
// response. Content text that is not valid JSON is kept as {"text": ...};
// responses without the content path yield nil.
func parseSearchData(payload interface{}) interface{} {
	text, ok := extractContentText(payload)
	if !ok {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return map[string]interface{}{"text": text}
	}
	return decoded
}
