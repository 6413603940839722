package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Date bounds for requests, inclusive, as YYYYMMDD integers.
const (
	MinDate = 20120101
	MaxDate = 20241231
)

// Violation is one broken validation rule.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every rule a payload broke, so the caller
// can fix all of them in one round trip.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return "invalid tool request: " + strings.Join(parts, "; ")
}

// Fields returns the field of each violation, in order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Field
	}
	return fields
}

// Validator checks raw tool-call payloads against the request rules.
// It is pure and safe for concurrent use.
type Validator struct {
	assets []string
	schema *gojsonschema.Schema
}

// NewValidator creates a validator accepting the given asset codes.
func NewValidator(assets []string) (*Validator, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("at least one asset code is required")
	}

	codes := make([]string, len(assets))
	copy(codes, assets)

	loader := gojsonschema.NewGoLoader(schemaDoc(codes))
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request schema: %w", err)
	}

	return &Validator{
		assets: codes,
		schema: schema,
	}, nil
}

// Assets returns the accepted asset codes.
func (v *Validator) Assets() []string {
	codes := make([]string, len(v.assets))
	copy(codes, v.assets)
	return codes
}

// SchemaDoc returns the JSON Schema the validator enforces. Providers
// embed it into the tool catalog so the model sees the same rules the
// validator applies.
func (v *Validator) SchemaDoc() map[string]interface{} {
	return schemaDoc(v.assets)
}

// Validate checks a raw payload and returns the validated request, or a
// *ValidationError listing every violated rule.
func (v *Validator) Validate(raw json.RawMessage) (*Request, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &ValidationError{Violations: []Violation{
			{Field: "(root)", Message: "payload is not a JSON object"},
		}}
	}

	var violations []Violation
	for _, re := range result.Errors() {
		violations = append(violations, Violation{
			Field:   re.Field(),
			Message: re.Description(),
		})
	}

	// Cross-field rule, checked whenever both dates decode as integers
	var dates struct {
		StartDate *int `json:"start_date"`
		EndDate   *int `json:"end_date"`
	}
	if json.Unmarshal(raw, &dates) == nil && dates.StartDate != nil && dates.EndDate != nil {
		if *dates.EndDate < *dates.StartDate {
			violations = append(violations, Violation{
				Field:   "end_date",
				Message: fmt.Sprintf("end_date %d is before start_date %d", *dates.EndDate, *dates.StartDate),
			})
		}
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &ValidationError{Violations: []Violation{
			{Field: "(root)", Message: "payload does not decode into a request"},
		}}
	}

	return &req, nil
}

func schemaDoc(assets []string) map[string]interface{} {
	boolMask := func(length int) map[string]interface{} {
		return map[string]interface{}{
			"type":     "array",
			"items":    map[string]interface{}{"type": "boolean"},
			"minItems": length,
			"maxItems": length,
		}
	}
	clockField := func(max int) map[string]interface{} {
		return map[string]interface{}{
			"type":    "integer",
			"minimum": 0,
			"maximum": max,
		}
	}

	return map[string]interface{}{
		"type":     "object",
		"required": []string{"asset", "start_date", "end_date", "bar_period", "time_filters", "trading_hours"},
		"properties": map[string]interface{}{
			"asset": map[string]interface{}{
				"type": "string",
				"enum": assets,
			},
			"start_date": map[string]interface{}{
				"type":    "integer",
				"minimum": MinDate,
				"maximum": MaxDate,
			},
			"end_date": map[string]interface{}{
				"type":    "integer",
				"minimum": MinDate,
				"maximum": MaxDate,
			},
			"bar_period": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
			},
			"time_filters": map[string]interface{}{
				"type":                 "object",
				"required":             []string{"months", "daysOfWeek", "daysOfMonth"},
				"additionalProperties": false,
				"properties": map[string]interface{}{
					"months":      boolMask(12),
					"daysOfWeek":  boolMask(5),
					"daysOfMonth": boolMask(31),
				},
			},
			"trading_hours": map[string]interface{}{
				"type":                 "object",
				"required":             []string{"startHour", "startMin", "endHour", "endMin"},
				"additionalProperties": false,
				"properties": map[string]interface{}{
					"startHour": clockField(23),
					"startMin":  clockField(59),
					"endHour":   clockField(23),
					"endMin":    clockField(59),
				},
			},
		},
	}
}
