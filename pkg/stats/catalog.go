package stats

// DefaultCatalog returns the statistics the Quantics service currently
// exposes. Endpoint is left empty so registration derives it from the name.
func DefaultCatalog() []Descriptor {
	return []Descriptor{
		{
			Name:              "Volatility",
			Description:       "Fetches volatility analysis based on price fluctuations for the specified asset and period.",
			OutputDescription: "The response contains volatility metrics in 'metadata' and potentially charts in 'charts_html'.",
		},
		{
			Name:              "Volume",
			Description:       "Fetches trading volume analysis over specified periods for the given asset.",
			OutputDescription: "The response contains volume metrics in 'metadata' and potentially charts in 'charts_html'.",
		},
		{
			Name:              "Cumulative Price",
			Description:       "Calculates and fetches the accumulated price movement over time for the asset.",
			OutputDescription: "The response contains cumulative price data in 'metadata' and potentially charts in 'charts_html'.",
		},
	}
}

// DefaultRegistry builds a registry over the default catalog.
func DefaultRegistry() (*Registry, error) {
	return NewRegistry(DefaultCatalog()...)
}
