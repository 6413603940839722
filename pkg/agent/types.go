package agent

import (
	"strings"

	"github.com/strataquant/strata/pkg/transcript"
)

// TokenUsage tracks token consumption across the model calls of a run.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AuthProfile represents one provider credential with failover ordering.
// Lower priority runs first; cooldown fields are managed by the runner.
type AuthProfile struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"` // "anthropic" or "openai"
	APIKey       string `json:"api_key"`
	Priority     int    `json:"priority"`
	CooldownTime int64  `json:"cooldown_until,omitempty"` // unix millis
	FailureCount int    `json:"failure_count,omitempty"`
}

// RunParams describes one prompt to run against a conversation.
type RunParams struct {
	Prompt          string    `json:"prompt"`
	ConversationKey string    `json:"conversation_key"`
	Config          RunConfig `json:"config"`
}

// RunConfig holds the per-run model parameters. MaxToolRounds bounds
// the number of model decisions in a run; MaxRetries bounds retries of
// a single model call on transient errors.
type RunConfig struct {
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	SystemPrompt  string  `json:"system_prompt,omitempty"`
	MaxToolRounds int     `json:"max_tool_rounds,omitempty"`
	MaxRetries    int     `json:"max_retries,omitempty"`
}

// RunResult is the outcome of a completed run. Turns holds every turn
// the run added to the transcript, the prompt included.
type RunResult struct {
	Response        string            `json:"response"`
	ConversationKey string            `json:"conversation_key"`
	Turns           []transcript.Turn `json:"turns,omitempty"`
	ToolCalls       int               `json:"tool_calls,omitempty"`
	FellBack        bool              `json:"fell_back,omitempty"`
	Usage           *TokenUsage       `json:"usage,omitempty"`
	Aborted         bool              `json:"aborted,omitempty"`
}

// DefaultRunConfig returns the standard run configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Model:         "claude-sonnet-4",
		Temperature:   0.7,
		MaxTokens:     4096,
		MaxToolRounds: 5,
		MaxRetries:    3,
	}
}

// IsRetryableError reports whether a provider error is worth retrying
// or failing over: connection drops, timeouts, rate limits and server
// errors. Everything else (bad keys, malformed requests) is permanent.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"ECONNRESET",
		"ETIMEDOUT",
		"429",
		"rate limit",
		"500",
		"502",
		"503",
		"504",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// EstimateTokens gives a rough token count for a turn list, about four
// characters per token plus per-turn framing.
func EstimateTokens(turns []transcript.Turn) int {
	total := 0
	for _, turn := range turns {
		total += len(turn.Content) / 4
		for _, tc := range turn.ToolCalls {
			total += (len(tc.Name) + len(tc.Arguments)) / 4
		}
		total += 4
	}
	return total
}
