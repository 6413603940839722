package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct {
	scheduleParser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		scheduleParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates a model provider name
func (v *Validator) ValidateProvider(provider string) error {
	if provider == "" {
		return fmt.Errorf("provider cannot be empty")
	}

	validProviders := []string{"anthropic", "openai"}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAsset validates a futures contract code
func (v *Validator) ValidateAsset(asset string) error {
	if asset == "" {
		return fmt.Errorf("asset code cannot be empty")
	}

	// Contract codes like ES, NQ, 6E, ZB
	pattern := regexp.MustCompile(`^[A-Z0-9]{1,4}$`)
	if !pattern.MatchString(asset) {
		return fmt.Errorf("invalid asset code: %s", asset)
	}

	return nil
}

// ValidateSchedule validates a five-field cron schedule
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule cannot be empty")
	}

	if _, err := v.scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	if err := v.ValidateProvider(cfg.Agent.Provider); err != nil {
		errors = append(errors, err)
	}
	if cfg.Agent.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Agent.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Agent.MaxToolRounds < 1 {
		errors = append(errors, fmt.Errorf("agent max_tool_rounds must be at least 1"))
	}

	for _, asset := range cfg.Quantics.Assets {
		if err := v.ValidateAsset(asset); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Quantics.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("quantics timeout_seconds must be positive"))
	}

	if cfg.Transcripts.Retention.Enabled {
		if err := v.ValidateSchedule(cfg.Transcripts.Retention.Schedule); err != nil {
			errors = append(errors, err)
		}
		if cfg.Transcripts.Retention.MaxAgeDays < 0 {
			errors = append(errors, fmt.Errorf("transcripts retention max_age_days must be >= 0"))
		}
		if cfg.Transcripts.Retention.MaxEntries < 0 {
			errors = append(errors, fmt.Errorf("transcripts retention max_entries must be >= 0"))
		}
	}

	if cfg.Cache.Enabled && cfg.Cache.TTLMinutes <= 0 {
		errors = append(errors, fmt.Errorf("cache ttl_minutes must be positive when the cache is enabled"))
	}

	if cfg.Gateway.Enabled {
		if cfg.Gateway.SharedSecret == "" {
			errors = append(errors, fmt.Errorf("gateway shared_secret is required when the gateway is enabled"))
		}
		if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
			errors = append(errors, fmt.Errorf("gateway port must be between 1 and 65535"))
		}
		if cfg.Gateway.RequestsPerMinute < 0 {
			errors = append(errors, fmt.Errorf("gateway requests_per_minute must be >= 0"))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
