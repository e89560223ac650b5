// internal/models/query.go
package models

import "strings"

// QueryMode selects how the upstream interprets a query. Optional on requests.
type QueryMode string

const (
	ModeExploratory QueryMode = "exploratory"
	ModeAnalytical  QueryMode = "analytical"
	ModeGenerative  QueryMode = "generative"
)

// QueryRequest is the incoming request envelope for POST /api/query.
type QueryRequest struct {
	Q    string    `json:"q" binding:"required,min=1"`
	Mode QueryMode `json:"mode,omitempty" binding:"omitempty,oneof=exploratory analytical generative"`
}

// AnswerCard is the headline answer for a query.
type AnswerCard struct {
	Title string      `json:"title"`
	Value interface{} `json:"value,omitempty"` // number or string
	Unit  *string     `json:"unit,omitempty"`
	Note  *string     `json:"note,omitempty"`
}

// SeriesPoint is a single observation in a chart series.
type SeriesPoint struct {
	X interface{} `json:"x"` // string or number
	Y *float64    `json:"y"`
}

type ChartSeries struct {
	Label  string        `json:"label"`
	Points []SeriesPoint `json:"points"`
}

// ChartData holds an optional chart for the result.
type ChartData struct {
	Type   string        `json:"type"` // "line" or "bar"
	Series []ChartSeries `json:"series"`
}

type SourceLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// QueryResult is the canonical shape returned to every caller. Sources is
// always present, possibly empty. Raw carries the upstream payload for
// debugging and is never schema-checked.
type QueryResult struct {
	Answer  *AnswerCard  `json:"answer,omitempty"`
	Chart   *ChartData   `json:"chart,omitempty"`
	Sources []SourceLink `json:"sources"`
	Raw     interface{}  `json:"raw,omitempty"`
}

// NormalizeQueryString trims the query, collapses internal whitespace and
// lowercases it so that casing and incidental whitespace never produce
// distinct cache keys.
func NormalizeQueryString(input string) string {
	fields := strings.Fields(input)
	return strings.ToLower(strings.Join(fields, " "))
}

// CacheKey derives the sole cache/dedup key from a normalized query and mode.
// Requests differing only by mode must not collide.
func CacheKey(normalized string, mode QueryMode) string {
	m := string(mode)
	if m == "" {
		m = "default"
	}
	return normalized + "::" + m
}

// StrPtr is a convenience for building optional string fields.
func StrPtr(s string) *string { return &s }

// FloatPtr is a convenience for building nullable series points.
func FloatPtr(f float64) *float64 { return &f }
