package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataquant/strata/pkg/analysis"
	"github.com/strataquant/strata/pkg/stats"
)

func TestToolName(t *testing.T) {
	assert.Equal(t, "calculate_volatility", ToolName("Volatility"))
	assert.Equal(t, "calculate_volume", ToolName("Volume"))
	assert.Equal(t, "calculate_cumulative_price", ToolName("Cumulative Price"))
}

func TestBuildCatalog(t *testing.T) {
	registry, err := stats.DefaultRegistry()
	require.NoError(t, err)
	validator, err := analysis.NewValidator(testAssets())
	require.NoError(t, err)

	specs := BuildCatalog(registry, validator)
	require.Len(t, specs, 3)

	names := make(map[string]ToolSpec, len(specs))
	for _, spec := range specs {
		names[spec.Name] = spec
	}
	require.Contains(t, names, "calculate_volatility")
	require.Contains(t, names, "calculate_volume")
	require.Contains(t, names, "calculate_cumulative_price")

	vol := names["calculate_volatility"]
	assert.NotEmpty(t, vol.Description)
	assert.Equal(t, "object", vol.InputSchema["type"])
	assert.Contains(t, vol.InputSchema, "properties")

	required, ok := vol.InputSchema["required"].([]string)
	require.True(t, ok)
	assert.Contains(t, required, "asset")
	assert.Contains(t, required, "bar_period")
	assert.Contains(t, required, "time_filters")
	assert.Contains(t, required, "trading_hours")
}
