// internal/upstream/entities.go
package upstream

import "strings"

// Entity is a queryable place with its display name and the canonical
// identifier used in follow-up data calls.
type Entity struct {
	Name string
	DCID string
}

// entityRule maps query keywords onto an entity. Evaluation is
// case-insensitive substring matching, first match wins in table order.
type entityRule struct {
	Keywords []string
	Entity   Entity
}

// DefaultEntity applies when no keyword matches.
var DefaultEntity = Entity{Name: "South Africa", DCID: "country/ZAF"}

var entityRules = []entityRule{
	{Keywords: []string{"germany"}, Entity: Entity{Name: "Germany", DCID: "country/DEU"}},
	{Keywords: []string{"usa", "united states"}, Entity: Entity{Name: "United States", DCID: "country/USA"}},
	{Keywords: []string{"china"}, Entity: Entity{Name: "China", DCID: "country/CHN"}},
	{Keywords: []string{"japan"}, Entity: Entity{Name: "Japan", DCID: "country/JPN"}},
	{Keywords: []string{"brazil"}, Entity: Entity{Name: "Brazil", DCID: "country/BRA"}},
	{Keywords: []string{"india"}, Entity: Entity{Name: "India", DCID: "country/IND"}},
	{Keywords: []string{"uk", "united kingdom"}, Entity: Entity{Name: "United Kingdom", DCID: "country/GBR"}},
	{Keywords: []string{"france"}, Entity: Entity{Name: "France", DCID: "country/FRA"}},
	{Keywords: []string{"canada"}, Entity: Entity{Name: "Canada", DCID: "country/CAN"}},
	{Keywords: []string{"australia"}, Entity: Entity{Name: "Australia", DCID: "country/AUS"}},
}

// topicRule maps query keywords onto a topic label sent to the search call.
type topicRule struct {
	Keywords []string
	Topic    string
}

// DefaultTopic applies when no keyword matches.
const DefaultTopic = "population"

var topicRules = []topicRule{
	{Keywords: []string{"gdp", "economy"}, Topic: "gdp"},
	{Keywords: []string{"unemployment"}, Topic: "unemployment"},
	{Keywords: []string{"inflation"}, Topic: "inflation"},
	{Keywords: []string{"health", "life expectancy"}, Topic: "health"},
	{Keywords: []string{"education", "literacy"}, Topic: "education"},
}

// InterpretEntity extracts the target entity from the query text.
func InterpretEntity(query string) Entity {
	q := strings.ToLower(query)
	for _, rule := range entityRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(q, kw) {
				return rule.Entity
			}
		}
	}
	return DefaultEntity
}

// InterpretTopic extracts the topic from the query text.
func InterpretTopic(query string) string {
	q := strings.ToLower(query)
	for _, rule := range topicRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(q, kw) {
				return rule.Topic
			}
		}
	}
	return DefaultTopic
}
