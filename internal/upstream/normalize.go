// internal/upstream/normalize.go
package upstream

import (
	"encoding/json"
	"fmt"
	"strconv"

	"datalens-gateway/internal/common/validation"
	"datalens-gateway/internal/models"
)

// The upstream response shape is not contractually fixed. Normalization is a
// chain of named decoders composed first-success-wins:
//
//	A. already-canonical payload    -> returned unchanged
//	B. candidate-variable list      -> follow-up data call (adapter)
//	C. time-series per place        -> answer card + chart
//	generic field scraping          -> best-effort canonical result
//
// The scraping fallback never fails: worst case is an empty sources list with
// no answer and no chart.

// preferredVariableDCID is the fixed priority key for variant B selection.
const preferredVariableDCID = "Count_Person"

const (
	defaultSourceLabel = "Data Commons"
	defaultSourceURL   = "https://datacommons.org"
)

// ---- variant A: already canonical ----

// decodeCanonical returns the payload as a QueryResult when it already
// validates against the canonical schema, field for field unchanged.
func decodeCanonical(v *validation.QueryResultValidator, payload interface{}) (*models.QueryResult, bool) {
	if payload == nil || !v.Validate(payload) {
		return nil, false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var result models.QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	if result.Sources == nil {
		result.Sources = []models.SourceLink{}
	}
	return &result, true
}

// ---- variant B: candidate variable list ----

type variableRef struct {
	DCID string `json:"dcid"`
}

type variableList struct {
	Variables        []variableRef     `json:"variables"`
	DCIDNameMappings map[string]string `json:"dcid_name_mappings"`
}

func decodeVariableList(payload interface{}) (*variableList, bool) {
	var vl variableList
	if !reshape(payload, &vl) || len(vl.Variables) == 0 {
		return nil, false
	}
	return &vl, true
}

// preferredVariable selects the variable by the fixed priority key, falling
// back to the first listed.
func (vl *variableList) preferredVariable() variableRef {
	for _, v := range vl.Variables {
		if v.DCID == preferredVariableDCID {
			return v
		}
	}
	return vl.Variables[0]
}

// displayName resolves a variable's human-readable name.
func (vl *variableList) displayName(v variableRef) string {
	if name, ok := vl.DCIDNameMappings[v.DCID]; ok && name != "" {
		return name
	}
	return v.DCID
}

// ---- variant C: time series per place ----

type placeObservations struct {
	PlaceObservations []struct {
		TimeSeries [][]interface{} `json:"time_series"`
	} `json:"place_observations"`
	SourceMetadata struct {
		ImportName    string `json:"importName"`
		ProvenanceURL string `json:"provenanceUrl"`
	} `json:"source_metadata"`
}

func decodeTimeSeries(payload interface{}) (*placeObservations, bool) {
	var obs placeObservations
	if !reshape(payload, &obs) || len(obs.PlaceObservations) == 0 {
		return nil, false
	}
	return &obs, true
}

// buildSeriesResult turns a recognized time series into the canonical result:
// a single-series line chart, the latest value, and the first-to-last percent
// growth (undefined below two numeric observations or when the first is zero).
func buildSeriesResult(obs *placeObservations, varName string, entity Entity, searchData, dataResponse interface{}) *models.QueryResult {
	series := obs.PlaceObservations[0].TimeSeries

	points := make([]models.SeriesPoint, 0, len(series))
	values := make([]float64, 0, len(series))
	for _, pair := range series {
		var x interface{} = ""
		if len(pair) > 0 && pair[0] != nil {
			x = pair[0]
		}
		y, ok := asNumber(elem(pair, 1))
		if !ok {
			continue
		}
		points = append(points, models.SeriesPoint{X: x, Y: models.FloatPtr(y)})
		values = append(values, y)
	}

	note := fmt.Sprintf("%s data.", varName)
	var latest interface{}
	if len(values) > 0 {
		latestVal := values[len(values)-1]
		latest = latestVal
		note += fmt.Sprintf(" Latest value: %s.", strconv.FormatFloat(latestVal, 'f', -1, 64))
	} else {
		note += " Latest value: N/A."
	}
	if len(values) > 1 && values[0] != 0 {
		growth := (values[len(values)-1] - values[0]) / values[0] * 100
		note += fmt.Sprintf(" Growth rate: %.1f%%", growth)
	}

	sourceLabel := obs.SourceMetadata.ImportName
	if sourceLabel == "" {
		sourceLabel = defaultSourceLabel
	}
	sourceURL := obs.SourceMetadata.ProvenanceURL
	if sourceURL == "" {
		sourceURL = defaultSourceURL
	}

	return &models.QueryResult{
		Answer: &models.AnswerCard{
			Title: fmt.Sprintf("%s - %s", varName, entity.Name),
			Value: latest,
			Unit:  models.StrPtr("people"),
			Note:  models.StrPtr(note),
		},
		Chart: &models.ChartData{
			Type:   "line",
			Series: []models.ChartSeries{{Label: varName, Points: points}},
		},
		Sources: []models.SourceLink{{Label: sourceLabel, URL: sourceURL}},
		Raw:     map[string]interface{}{"search": searchData, "data": dataResponse},
	}
}

// variableCountResult is the degraded card for variant B when the follow-up
// data call fails or its shape is unrecognized: only the candidate count, no
// chart.
func variableCountResult(vl *variableList, varName string, entity Entity, searchData interface{}) *models.QueryResult {
	note := fmt.Sprintf("Found %d candidate variables for %s. Main variable: %s", len(vl.Variables), entity.Name, varName)
	return &models.QueryResult{
		Answer: &models.AnswerCard{
			Title: "Candidate Variables Found",
			Value: float64(len(vl.Variables)),
			Note:  models.StrPtr(note),
		},
		Sources: []models.SourceLink{{Label: defaultSourceLabel, URL: defaultSourceURL}},
		Raw:     searchData,
	}
}

// ---- generic field scraping ----

// scrapeFields probes a fixed, ordered list of alternative field names on the
// extracted payload and the original response, assembling whatever is found.
// Tolerates total absence of everything.
func scrapeFields(searchData, searchResult interface{}) *models.QueryResult {
	answerText, haveAnswer := firstString(
		probe(searchData, "answer", "text"),
		probe(searchData, "text"),
		probe(searchData, "summary"),
		probe(searchResult, "answer", "text"),
		probe(searchResult, "text"),
		probe(searchResult, "summary"),
	)

	var unit *string
	if u, ok := firstString(probe(searchData, "unit"), probe(searchResult, "unit")); ok {
		unit = models.StrPtr(u)
	}

	value := firstScalar(probe(searchData, "value"), probe(searchResult, "value"))

	sources := scrapeSources(
		probe(searchData, "citations"),
		probe(searchData, "sources"),
		probe(searchResult, "citations"),
		probe(searchResult, "sources"),
	)

	chart := scrapeChart(
		probe(searchData, "series"),
		probe(searchData, "timeSeries"),
		probe(searchData, "timeseries"),
		probe(searchResult, "series"),
		probe(searchResult, "timeSeries"),
		probe(searchResult, "timeseries"),
	)

	result := &models.QueryResult{
		Chart:   chart,
		Sources: sources,
	}
	if haveAnswer {
		result.Answer = &models.AnswerCard{
			Title: "Answer",
			Value: value,
			Unit:  unit,
			Note:  models.StrPtr(answerText),
		}
	}
	if searchData != nil {
		result.Raw = searchData
	} else {
		result.Raw = searchResult
	}
	return result
}

// scrapeSources builds the source list from the first candidate that is an
// array, skipping entries without a URL.
func scrapeSources(candidates ...interface{}) []models.SourceLink {
	sources := []models.SourceLink{}
	for _, candidate := range candidates {
		items, ok := candidate.([]interface{})
		if !ok {
			continue
		}
		for _, item := range items {
			url, _ := firstString(probe(item, "url"), probe(item, "href"))
			if url == "" {
				continue
			}
			label, ok := firstString(probe(item, "label"), probe(item, "name"), probe(item, "url"))
			if !ok {
				label = "source"
			}
			sources = append(sources, models.SourceLink{Label: label, URL: url})
		}
		break
	}
	return sources
}

// scrapeChart maps the first array-shaped series candidate onto a line chart,
// keeping at most five series.
func scrapeChart(candidates ...interface{}) *models.ChartData {
	var items []interface{}
	for _, candidate := range candidates {
		if arr, ok := candidate.([]interface{}); ok {
			items = arr
			break
		}
	}
	if items == nil {
		return nil
	}
	if len(items) > 5 {
		items = items[:5]
	}

	series := make([]models.ChartSeries, 0, len(items))
	for idx, item := range items {
		label, ok := firstString(probe(item, "label"), probe(item, "name"))
		if !ok {
			label = fmt.Sprintf("Series %d", idx+1)
		}

		points := []models.SeriesPoint{}
		if rawPoints, ok := probe(item, "points").([]interface{}); ok {
			for _, rp := range rawPoints {
				var x interface{} = ""
				if v := firstNonNil(probe(rp, "x"), probe(rp, "t"), probe(rp, "year")); v != nil {
					x = v
				}
				var y *float64
				if n, ok := asNumber(firstNonNil(probe(rp, "y"), probe(rp, "value"))); ok {
					y = models.FloatPtr(n)
				}
				points = append(points, models.SeriesPoint{X: x, Y: y})
			}
		}
		series = append(series, models.ChartSeries{Label: label, Points: points})
	}

	return &models.ChartData{Type: "line", Series: series}
}

// ---- untyped payload helpers ----

// reshape re-decodes an untyped JSON value into a typed view.
func reshape(payload interface{}, out interface{}) bool {
	if payload == nil {
		return false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// probe walks a nested map path, returning nil when any step is missing or
// not an object.
func probe(payload interface{}, path ...string) interface{} {
	current := payload
	for _, key := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

func firstString(candidates ...interface{}) (string, bool) {
	for _, c := range candidates {
		if s, ok := c.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// firstScalar returns the first candidate usable as an answer value, which
// may be a number or a string.
func firstScalar(candidates ...interface{}) interface{} {
	for _, c := range candidates {
		switch c.(type) {
		case float64, string:
			return c
		}
	}
	return nil
}

func firstNonNil(candidates ...interface{}) interface{} {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func asNumber(v interface{}) (float64, bool) {
	n, ok := v.(float64)
	return n, ok
}

func elem(arr []interface{}, i int) interface{} {
	if i < len(arr) {
		return arr[i]
	}
	return nil
}
