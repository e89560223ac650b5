// internal/common/validation/schema.go
package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// queryResultSchema is the canonical output contract. Every value returned to
// a caller either validates against it or was built field by field in that
// shape by the normalizer.
const queryResultSchema = `{
  "type": "object",
  "properties": {
    "answer": {
      "type": "object",
      "properties": {
        "title": {"type": "string"},
        "value": {"type": ["number", "string"]},
        "unit": {"type": ["string", "null"]},
        "note": {"type": ["string", "null"]}
      },
      "required": ["title"],
      "additionalProperties": false
    },
    "chart": {
      "type": "object",
      "properties": {
        "type": {"enum": ["line", "bar"]},
        "series": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "label": {"type": "string"},
              "points": {
                "type": "array",
                "items": {
                  "type": "object",
                  "properties": {
                    "x": {"type": ["string", "number"]},
                    "y": {"type": ["number", "null"]}
                  },
                  "required": ["x", "y"],
                  "additionalProperties": false
                }
              }
            },
            "required": ["label", "points"],
            "additionalProperties": false
          }
        }
      },
      "required": ["type", "series"],
      "additionalProperties": false
    },
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "label": {"type": "string"},
          "url": {"type": "string"}
        },
        "required": ["label", "url"],
        "additionalProperties": false
      }
    },
    "raw": {}
  },
  "required": ["sources"],
  "additionalProperties": false
}`

// QueryResultValidator validates untyped payloads against the canonical
// QueryResult schema. Pure, no I/O; safe for concurrent use.
type QueryResultValidator struct {
	schema *gojsonschema.Schema
}

func NewQueryResultValidator() (*QueryResultValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(queryResultSchema))
	if err != nil {
		return nil, fmt.Errorf("compile query result schema: %w", err)
	}
	return &QueryResultValidator{schema: schema}, nil
}

// MustNewQueryResultValidator panics on a schema compile failure. The schema
// is a compile-time constant, so a failure is a programming error.
func MustNewQueryResultValidator() *QueryResultValidator {
	v, err := NewQueryResultValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate reports whether the payload already matches the canonical shape.
// The payload must be a decoded JSON value (map, slice, or scalar).
func (v *QueryResultValidator) Validate(payload interface{}) bool {
	if payload == nil {
		return false
	}
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return false
	}
	return result.Valid()
}

// ValidationErrors returns human-readable reasons a payload failed validation.
func (v *QueryResultValidator) ValidationErrors(payload interface{}) []string {
	if payload == nil {
		return []string{"payload is null"}
	}
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return msgs
}
