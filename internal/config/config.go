package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the main Strata configuration
type Config struct {
	// Quantics statistics service
	Quantics QuanticsConfig `json:"quantics" mapstructure:"quantics"`

	// Statistic catalog overrides, empty uses the built-in catalog
	Catalog []CatalogEntry `json:"catalog,omitempty" mapstructure:"catalog"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// AI configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Conversation transcripts
	Transcripts TranscriptsConfig `json:"transcripts" mapstructure:"transcripts"`

	// Result cache
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Observability
	Observability ObservabilityConfig `json:"observability" mapstructure:"observability"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// QuanticsConfig holds connection settings for the statistics service
type QuanticsConfig struct {
	BaseURL         string   `json:"base_url" mapstructure:"base_url"`
	Username        string   `json:"username" mapstructure:"username"`
	Password        string   `json:"password" mapstructure:"password"`
	CredentialsFile string   `json:"credentials_file" mapstructure:"credentials_file"`
	TimeoutSeconds  int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Assets          []string `json:"assets" mapstructure:"assets"`
}

// CatalogEntry describes one statistic exposed to the model. Endpoint
// defaults to the slugged name.
type CatalogEntry struct {
	Name              string `json:"name" mapstructure:"name"`
	Endpoint          string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Description       string `json:"description" mapstructure:"description"`
	OutputDescription string `json:"output_description" mapstructure:"output_description"`
}

// AgentConfig holds settings for the orchestration loop
type AgentConfig struct {
	Provider      string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model         string  `json:"model" mapstructure:"model"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxToolRounds int     `json:"max_tool_rounds" mapstructure:"max_tool_rounds"`
	SystemPrompt  string  `json:"system_prompt" mapstructure:"system_prompt"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// TranscriptsConfig holds transcript storage configuration
type TranscriptsConfig struct {
	Dir       string          `json:"dir" mapstructure:"dir"`
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`
}

// RetentionConfig holds transcript retention settings
type RetentionConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Schedule   string `json:"schedule" mapstructure:"schedule"` // cron spec, minute granularity
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	MaxEntries int    `json:"max_entries" mapstructure:"max_entries"`
	Archive    bool   `json:"archive" mapstructure:"archive"`
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Path       string `json:"path" mapstructure:"path"`
	TTLMinutes int    `json:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled           bool   `json:"enabled" mapstructure:"enabled"`
	Host              string `json:"host" mapstructure:"host"`
	Port              int    `json:"port" mapstructure:"port"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	TickInterval      int    `json:"tick_interval" mapstructure:"tick_interval"` // ms
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ObservabilityConfig holds tracing and audit configuration
type ObservabilityConfig struct {
	TraceSampleRatio float64 `json:"trace_sample_ratio" mapstructure:"trace_sample_ratio"`
	AuditFile        string  `json:"audit_file" mapstructure:"audit_file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Quantics: QuanticsConfig{
			BaseURL:        "http://localhost:8000",
			TimeoutSeconds: 30,
			Assets: []string{
				"ES", "NQ", "YM", "RTY", "CL", "GC", "SI", "ZB", "ZN", "6E",
			},
		},
		Agent: AgentConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4",
			Temperature:   0.7,
			MaxTokens:     4096,
			MaxToolRounds: 5,
			SystemPrompt:  "You are a helpful AI assistant.",
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Transcripts: TranscriptsConfig{
			Retention: RetentionConfig{
				Enabled:    false,
				Schedule:   "0 3 * * *",
				MaxAgeDays: 30,
				MaxEntries: 500,
				Archive:    true,
			},
		},
		Cache: CacheConfig{
			Enabled:    false,
			TTLMinutes: 15,
		},
		Gateway: GatewayConfig{
			Enabled:           false,
			Host:              "0.0.0.0",
			Port:              8080,
			SharedSecret:      "",
			TickInterval:      30000,
			RequestsPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Observability: ObservabilityConfig{
			TraceSampleRatio: 1.0,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Require at least one AI profile
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Agent.Provider != "anthropic" && c.Agent.Provider != "openai" {
		return fmt.Errorf("invalid agent provider %s (must be: anthropic, openai)", c.Agent.Provider)
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if c.Agent.MaxToolRounds < 1 {
		return fmt.Errorf("agent max_tool_rounds must be at least 1, got %d", c.Agent.MaxToolRounds)
	}

	seen := make(map[string]bool, len(c.Catalog))
	for i, entry := range c.Catalog {
		if entry.Name == "" {
			return fmt.Errorf("catalog entry %d: name is required", i)
		}
		if seen[entry.Name] {
			return fmt.Errorf("duplicate catalog entry %s", entry.Name)
		}
		seen[entry.Name] = true
	}

	if c.Quantics.BaseURL == "" {
		return fmt.Errorf("quantics base_url is required")
	}
	if c.Quantics.TimeoutSeconds <= 0 {
		return fmt.Errorf("quantics timeout_seconds must be positive, got %d", c.Quantics.TimeoutSeconds)
	}
	if len(c.Quantics.Assets) == 0 {
		return fmt.Errorf("quantics assets must not be empty")
	}

	if c.Cache.Enabled && c.Cache.TTLMinutes <= 0 {
		return fmt.Errorf("cache ttl_minutes must be positive when the cache is enabled")
	}

	if c.Gateway.Enabled && c.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway shared_secret is required when the gateway is enabled")
	}

	// Field-level checks (key formats, schedules, ranges) run after the
	// structural ones so the messages above keep their precision.
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}

	return nil
}
