// internal/upstream/adapter_test.go
package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens-gateway/internal/common/config"
	"datalens-gateway/internal/common/logger"
	"datalens-gateway/internal/common/validation"
	"datalens-gateway/internal/models"
)

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	log := logger.NewNoOpLogger()
	caller := NewCaller(NewTransport(), time.Millisecond, log)
	cfg := config.UpstreamConfig{
		BaseURL:          baseURL,
		SearchTimeout:    2000,
		DataTimeout:      2000,
		SearchMaxRetries: 2,
		DataMaxRetries:   1,
		DegradedTriggers: []string{"404 Client Error"},
	}
	return NewAdapter(caller, validation.MustNewQueryResultValidator(), NewCannedProvider(), cfg, log)
}

// toolResponse wraps text the way the upstream frames tool-call results.
func toolResponse(text string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"result": map[string]interface{}{
			"content": []interface{}{
				map[string]interface{}{"type": "text", "text": text},
			},
		},
	})
	return string(body)
}

func decodeToolCall(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var req map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestQueryReturnsCanonicalPayloadUnchanged(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/mcp", r.URL.Path)
		req := decodeToolCall(t, r)
		assert.Equal(t, "search_indicators", probe(req, "params", "name"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(toolResponse(`{
			"answer": {"title": "Population", "value": 125700000, "unit": "people"},
			"sources": [{"label": "Data Commons", "url": "https://datacommons.org"}]
		}`)))
	}))
	defer server.Close()

	result, err := newTestAdapter(t, server.URL).Query(context.Background(), "population of japan", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	require.NotNil(t, result.Answer)
	assert.Equal(t, "Population", result.Answer.Title)
	assert.Equal(t, float64(125700000), result.Answer.Value)
	require.Len(t, result.Sources, 1)
}

func TestQueryFollowsVariableListWithDataCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeToolCall(t, r)
		w.Header().Set("Content-Type", "application/json")

		switch probe(req, "params", "name") {
		case "search_indicators":
			assert.Equal(t, "gdp", probe(req, "params", "arguments", "query"))
			assert.Equal(t, []interface{}{"Germany"}, probe(req, "params", "arguments", "places"))
			w.Write([]byte(toolResponse(`{
				"variables": [{"dcid": "Amount_EconomicActivity"}, {"dcid": "Count_Person"}],
				"dcid_name_mappings": {"Count_Person": "Total Population"}
			}`)))
		case "get_observations":
			assert.Equal(t, "Count_Person", probe(req, "params", "arguments", "variable_dcid"))
			assert.Equal(t, "country/DEU", probe(req, "params", "arguments", "place_dcid"))
			w.Write([]byte(toolResponse(`{
				"place_observations": [{"time_series": [["2022", 100], ["2023", 110]]}],
				"source_metadata": {"importName": "WorldBank", "provenanceUrl": "https://data.worldbank.org"}
			}`)))
		default:
			t.Errorf("unexpected tool call: %v", probe(req, "params", "name"))
		}
	}))
	defer server.Close()

	result, err := newTestAdapter(t, server.URL).Query(context.Background(), "gdp of germany", models.ModeAnalytical)
	require.NoError(t, err)

	require.NotNil(t, result.Answer)
	assert.Equal(t, "Total Population - Germany", result.Answer.Title)
	assert.Equal(t, float64(110), result.Answer.Value)
	assert.Contains(t, *result.Answer.Note, "Growth rate: 10.0%")
	require.NotNil(t, result.Chart)
	assert.Len(t, result.Chart.Series[0].Points, 2)
	assert.Equal(t, "WorldBank", result.Sources[0].Label)
}

func TestQueryExhaustsPrimaryBudgetThenFallsBack(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/mcp" {
			primaryHits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fallbackHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(toolResponse(`{"sources": []}`)))
	}))
	defer server.Close()

	result, err := newTestAdapter(t, server.URL).Query(context.Background(), "population of japan", "")
	require.NoError(t, err)
	require.NotNil(t, result)

	// Budget of 2 retries means three primary attempts, then one fallback.
	assert.Equal(t, int32(3), primaryHits.Load())
	assert.Equal(t, int32(1), fallbackHits.Load())
}

func TestQueryFailsWhenBothEndpointsExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestAdapter(t, server.URL).Query(context.Background(), "population of japan", "")
	require.Error(t, err)
	assert.Equal(t, int32(4), hits.Load())
}

func TestQueryServesDegradedResultOnReportedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": {"code": -32000, "message": "tool exploded"}}`))
	}))
	defer server.Close()

	result, err := newTestAdapter(t, server.URL).Query(context.Background(), "population of japan", "")
	require.NoError(t, err)

	require.NotNil(t, result.Answer)
	assert.Equal(t, "Population - Japan", result.Answer.Title)
	assert.Equal(t, true, probe(result.Raw, "fallback"))
}

func TestQueryServesDegradedResultOnTriggerSubstring(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(toolResponse(`404 Client Error: Not Found for url`)))
	}))
	defer server.Close()

	result, err := newTestAdapter(t, server.URL).Query(context.Background(), "unemployment in france", "")
	require.NoError(t, err)

	require.NotNil(t, result.Answer)
	assert.Equal(t, "Population - France", result.Answer.Title)
	assert.Equal(t, true, probe(result.Raw, "fallback"))
}

func TestQueryScrapesUnrecognizedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(toolResponse(`{"mystery": 1}`)))
	}))
	defer server.Close()

	result, err := newTestAdapter(t, server.URL).Query(context.Background(), "population of japan", "")
	require.NoError(t, err)

	assert.Nil(t, result.Answer)
	assert.Nil(t, result.Chart)
	require.NotNil(t, result.Sources)
	assert.Empty(t, result.Sources)
}

func TestQueryDegradesToCountCardWhenDataCallFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeToolCall(t, r)
		if probe(req, "params", "name") == "get_observations" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(toolResponse(`{"variables": [{"dcid": "Count_Person"}]}`)))
	}))
	defer server.Close()

	result, err := newTestAdapter(t, server.URL).Query(context.Background(), "population of japan", "")
	require.NoError(t, err)

	require.NotNil(t, result.Answer)
	assert.Equal(t, "Candidate Variables Found", result.Answer.Title)
	assert.Equal(t, float64(1), result.Answer.Value)
	assert.Nil(t, result.Chart)
}
