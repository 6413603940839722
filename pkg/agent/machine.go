package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/strataquant/strata/internal/observability"
	"github.com/strataquant/strata/internal/tracing"
	"github.com/strataquant/strata/pkg/transcript"
)

// State identifies where a run sits in its decision loop.
type State string

const (
	StateAwaitingModelDecision State = "awaiting_model_decision"
	StateAwaitingToolExecution State = "awaiting_tool_execution"
	StateProcessingToolResult  State = "processing_tool_result"
	StateTerminal              State = "terminal"
)

// FallbackResponse is the fixed answer substituted when the decision
// budget runs out before the model produces a final response.
const FallbackResponse = "Sorry, I could not find an answer to your question in the specified number of steps."

// ModelSettings carries the per-run model parameters.
type ModelSettings struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	MaxRetries   int
}

// RunOutcome reports one completed run: the final response plus every
// turn the run produced, in order.
type RunOutcome struct {
	Response  string
	Turns     []transcript.Turn
	State     State
	ToolCalls int
	FellBack  bool
	Usage     *TokenUsage
}

// Machine drives one conversation run through the decision loop. Each
// model decision either finishes the run or requests tool calls whose
// results are folded back in for the next decision. The budget bounds
// the number of model decisions; exhausting it substitutes the fallback
// response no matter what the last tool returned.
type Machine struct {
	provider   DecisionProvider
	dispatcher *Dispatcher
	tools      []ToolSpec
	settings   ModelSettings
	budget     int
	logger     zerolog.Logger
	state      State
}

// NewMachine builds a machine for a single run. A non-positive budget
// falls back to the default decision budget.
func NewMachine(provider DecisionProvider, dispatcher *Dispatcher, tools []ToolSpec, settings ModelSettings, budget int, logger zerolog.Logger) *Machine {
	if budget <= 0 {
		budget = DefaultRunConfig().MaxToolRounds
	}
	return &Machine{
		provider:   provider,
		dispatcher: dispatcher,
		tools:      tools,
		settings:   settings,
		budget:     budget,
		logger:     logger,
		state:      StateAwaitingModelDecision,
	}
}

// State returns the machine's current position in the loop.
func (m *Machine) State() State {
	return m.state
}

// Run executes the decision loop over the given history. The history is
// not mutated; new turns come back in the outcome. On cancellation the
// turn in flight is discarded and the context error returned, so the
// caller never sees a partial turn.
func (m *Machine) Run(ctx context.Context, history []transcript.Turn) (*RunOutcome, error) {
	logger := tracing.LoggerFromContext(ctx, m.logger)

	turns := make([]transcript.Turn, len(history))
	copy(turns, history)

	outcome := &RunOutcome{Usage: &TokenUsage{}}
	decisions := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if decisions >= m.budget {
			fallback := transcript.Turn{
				Kind:      transcript.KindFallback,
				Content:   FallbackResponse,
				Timestamp: time.Now(),
			}
			outcome.Turns = append(outcome.Turns, fallback)
			outcome.Response = FallbackResponse
			outcome.FellBack = true
			m.state = StateTerminal
			outcome.State = StateTerminal
			observability.RecordFallback()
			logger.Warn().
				Int("decisions", decisions).
				Msg("Decision budget exhausted, substituting fallback response")
			return outcome, nil
		}

		m.state = StateAwaitingModelDecision
		decision, err := m.decide(ctx, turns)
		if err != nil {
			return nil, err
		}
		decisions++

		if decision.Usage != nil {
			outcome.Usage.InputTokens += decision.Usage.InputTokens
			outcome.Usage.OutputTokens += decision.Usage.OutputTokens
		}

		if len(decision.ToolCalls) == 0 {
			final := transcript.Turn{
				Kind:      transcript.KindAssistant,
				Content:   decision.Content,
				Timestamp: time.Now(),
			}
			outcome.Turns = append(outcome.Turns, final)
			outcome.Response = decision.Content
			m.state = StateTerminal
			outcome.State = StateTerminal
			observability.RecordModelDecision(m.provider.Provider(), "direct")
			return outcome, nil
		}

		observability.RecordModelDecision(m.provider.Provider(), "tool_call")

		decisionTurn := transcript.Turn{
			Kind:      transcript.KindAssistant,
			Content:   decision.Content,
			ToolCalls: decision.ToolCalls,
			Timestamp: time.Now(),
		}
		turns = append(turns, decisionTurn)
		outcome.Turns = append(outcome.Turns, decisionTurn)

		m.state = StateAwaitingToolExecution
		for _, call := range decision.ToolCalls {
			outcome.ToolCalls++
			logger.Info().
				Str("tool", call.Name).
				Str("toolCallId", call.ID).
				Msg("Executing tool call")

			summary, err := m.dispatcher.Dispatch(ctx, call)
			if err != nil {
				return nil, err
			}

			m.state = StateProcessingToolResult
			resultTurn := transcript.Turn{
				Kind:       transcript.KindToolResult,
				Content:    summary,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Timestamp:  time.Now(),
			}
			turns = append(turns, resultTurn)
			outcome.Turns = append(outcome.Turns, resultTurn)
		}
	}
}

// decide calls the provider, retrying transient failures with
// exponential backoff.
func (m *Machine) decide(ctx context.Context, turns []transcript.Turn) (*Decision, error) {
	request := DecisionRequest{
		Model:        m.settings.Model,
		Turns:        turns,
		Tools:        m.tools,
		Temperature:  m.settings.Temperature,
		MaxTokens:    m.settings.MaxTokens,
		SystemPrompt: m.settings.SystemPrompt,
	}

	var lastErr error
	for attempt := 0; attempt <= m.settings.MaxRetries; attempt++ {
		decision, err := m.provider.Decide(ctx, request)
		if err == nil {
			return decision, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryableError(err) {
			return nil, err
		}

		if attempt < m.settings.MaxRetries {
			backoff := time.Duration(1000*(1<<uint(attempt))) * time.Millisecond
			m.logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Retrying model call after transient error")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("model call failed after %d retries: %w", m.settings.MaxRetries, lastErr)
}
