package agent

import (
	"strings"

	"github.com/strataquant/strata/pkg/analysis"
	"github.com/strataquant/strata/pkg/stats"
)

// ToolSpec is one model-facing tool definition.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolName derives the model-facing function name for a statistic.
// Statistic names may contain spaces, which the provider APIs reject in
// function names.
func ToolName(statistic string) string {
	return "calculate_" + strings.ReplaceAll(stats.Slug(statistic), "-", "_")
}

// BuildCatalog produces one tool per registered statistic. Every tool
// shares the request schema because every statistic takes the same
// parameters.
func BuildCatalog(registry *stats.Registry, validator *analysis.Validator) []ToolSpec {
	specs := make([]ToolSpec, 0, registry.Len())
	for _, desc := range registry.List() {
		specs = append(specs, ToolSpec{
			Name:        ToolName(desc.Name),
			Description: desc.Description,
			InputSchema: validator.SchemaDoc(),
		})
	}
	return specs
}
