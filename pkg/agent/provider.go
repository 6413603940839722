package agent

import (
	"context"
	"fmt"

	"github.com/strataquant/strata/pkg/transcript"
)

// Decision is one model turn: either a final text answer or a batch of
// tool calls, possibly with accompanying text.
type Decision struct {
	Content   string
	ToolCalls []transcript.ToolCall
	Usage     *TokenUsage
}

// DecisionRequest carries everything a provider needs to produce one
// decision.
type DecisionRequest struct {
	Model        string
	Turns        []transcript.Turn
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// DecisionProvider abstracts the model APIs that can drive a run.
type DecisionProvider interface {
	// Decide issues one model call over the conversation so far.
	Decide(ctx context.Context, request DecisionRequest) (*Decision, error)

	// Provider returns the provider name for logging and metrics.
	Provider() string
}

// Factory creates decision providers for auth profiles.
type Factory interface {
	Create(profile AuthProfile) (DecisionProvider, error)
}

type sdkFactory struct{}

// NewFactory returns the default factory backed by the Anthropic and
// OpenAI SDKs.
func NewFactory() Factory {
	return sdkFactory{}
}

func (sdkFactory) Create(profile AuthProfile) (DecisionProvider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
