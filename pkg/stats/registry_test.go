package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	t.Run("registers descriptors in order", func(t *testing.T) {
		r, err := NewRegistry(
			Descriptor{Name: "Volatility", Description: "a"},
			Descriptor{Name: "Volume", Description: "b"},
		)
		require.NoError(t, err)

		assert.Equal(t, 2, r.Len())
		list := r.List()
		require.Len(t, list, 2)
		assert.Equal(t, "Volatility", list[0].Name)
		assert.Equal(t, "Volume", list[1].Name)
	})

	t.Run("duplicate name fails construction", func(t *testing.T) {
		_, err := NewRegistry(
			Descriptor{Name: "Volatility"},
			Descriptor{Name: "Volatility"},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("empty name rejected", func(t *testing.T) {
		_, err := NewRegistry(Descriptor{Name: "  "})
		assert.Error(t, err)
	})
}

func TestRegistryResolve(t *testing.T) {
	r, err := NewRegistry(Descriptor{Name: "Volatility"})
	require.NoError(t, err)

	t.Run("known statistic", func(t *testing.T) {
		d, err := r.Resolve("Volatility")
		require.NoError(t, err)
		assert.Equal(t, "Volatility", d.Name)
	})

	t.Run("unknown statistic", func(t *testing.T) {
		_, err := r.Resolve("Volume")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown statistic: "Volume"`)
	})

	t.Run("lookups are case sensitive", func(t *testing.T) {
		_, err := r.Resolve("volatility")
		assert.Error(t, err)
	})
}

func TestRegistryEndpointDefault(t *testing.T) {
	t.Run("derived from name", func(t *testing.T) {
		r, err := NewRegistry(Descriptor{Name: "Cumulative Price"})
		require.NoError(t, err)

		d, err := r.Resolve("Cumulative Price")
		require.NoError(t, err)
		assert.Equal(t, "cumulative-price", d.Endpoint)
	})

	t.Run("explicit endpoint kept", func(t *testing.T) {
		r, err := NewRegistry(Descriptor{Name: "Volatility", Endpoint: "vol/v2"})
		require.NoError(t, err)

		d, err := r.Resolve("Volatility")
		require.NoError(t, err)
		assert.Equal(t, "vol/v2", d.Endpoint)
	})
}

func TestRegistryHas(t *testing.T) {
	r, err := NewRegistry(Descriptor{Name: "Volume"})
	require.NoError(t, err)

	assert.True(t, r.Has("Volume"))
	assert.False(t, r.Has("Volatility"))
}

func TestRegistryNames(t *testing.T) {
	r, err := NewRegistry(
		Descriptor{Name: "Volume"},
		Descriptor{Name: "Cumulative Price"},
		Descriptor{Name: "Volatility"},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"Cumulative Price", "Volatility", "Volume"}, r.Names())
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "volatility", Slug("Volatility"))
	assert.Equal(t, "cumulative-price", Slug("Cumulative Price"))
	assert.Equal(t, "cumulative-price", Slug("  Cumulative Price  "))
}

func TestDefaultCatalog(t *testing.T) {
	r, err := DefaultRegistry()
	require.NoError(t, err)

	assert.Equal(t, 3, r.Len())

	for _, name := range []string{"Volatility", "Volume", "Cumulative Price"} {
		d, err := r.Resolve(name)
		require.NoError(t, err, "statistic %s", name)
		assert.NotEmpty(t, d.Description)
		assert.NotEmpty(t, d.OutputDescription)
		assert.NotEmpty(t, d.Endpoint)
	}

	vol, err := r.Resolve("Volatility")
	require.NoError(t, err)
	assert.Contains(t, vol.Description, "volatility analysis")
	assert.Contains(t, vol.OutputDescription, "charts_html")
}
