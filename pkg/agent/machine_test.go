package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataquant/strata/pkg/analysis"
	"github.com/strataquant/strata/pkg/quantics"
	"github.com/strataquant/strata/pkg/stats"
	"github.com/strataquant/strata/pkg/transcript"
)

var testLogger = zerolog.Nop()

// scriptedProvider plays back canned decisions in order and records
// every request it saw.
type scriptedProvider struct {
	mu        sync.Mutex
	decisions []*Decision
	errs      []error
	calls     int
	requests  []DecisionRequest
}

func (p *scriptedProvider) Decide(ctx context.Context, request DecisionRequest) (*Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.calls
	p.calls++
	p.requests = append(p.requests, request)

	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.decisions) {
		return p.decisions[i], nil
	}
	return nil, fmt.Errorf("no scripted decision for call %d", i)
}

func (p *scriptedProvider) Provider() string {
	return "scripted"
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) request(t *testing.T, i int) DecisionRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Greater(t, len(p.requests), i)
	return p.requests[i]
}

// fakeExecutor plays back canned results in order and records every
// request it received.
type fakeExecutor struct {
	mu       sync.Mutex
	results  []*quantics.Result
	errs     []error
	calls    int
	requests []*analysis.Request
	descs    []stats.Descriptor
}

func (f *fakeExecutor) Execute(ctx context.Context, desc stats.Descriptor, req *analysis.Request) (*quantics.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	f.descs = append(f.descs, desc)

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return &quantics.Result{Success: true}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// blockingExecutor parks every call until its context is cancelled.
type blockingExecutor struct {
	started chan struct{}
}

func (b *blockingExecutor) Execute(ctx context.Context, desc stats.Descriptor, req *analysis.Request) (*quantics.Result, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func testAssets() []string {
	return []string{"ES", "NQ", "YM", "RTY", "CL", "GC", "SI", "ZB", "ZN", "6E"}
}

func newTestDispatcher(t *testing.T, executor quantics.Executor) *Dispatcher {
	t.Helper()
	registry, err := stats.DefaultRegistry()
	require.NoError(t, err)
	validator, err := analysis.NewValidator(testAssets())
	require.NoError(t, err)
	return NewDispatcher(registry, validator, executor, testLogger)
}

func newTestMachine(t *testing.T, provider DecisionProvider, executor quantics.Executor, budget int) *Machine {
	t.Helper()
	registry, err := stats.DefaultRegistry()
	require.NoError(t, err)
	validator, err := analysis.NewValidator(testAssets())
	require.NoError(t, err)

	settings := ModelSettings{
		Model:     "claude-sonnet-4",
		MaxTokens: 4096,
	}
	return NewMachine(provider, newTestDispatcher(t, executor), BuildCatalog(registry, validator), settings, budget, testLogger)
}

func boolMask(length int) []bool {
	m := make([]bool, length)
	for i := range m {
		m[i] = true
	}
	return m
}

// toolArgs builds a request payload, valid unless overridden.
func toolArgs(t *testing.T, overrides map[string]interface{}) string {
	t.Helper()
	payload := map[string]interface{}{
		"asset":      "ES",
		"start_date": 20240102,
		"end_date":   20240131,
		"bar_period": 30,
		"time_filters": map[string]interface{}{
			"months":      boolMask(12),
			"daysOfWeek":  boolMask(5),
			"daysOfMonth": boolMask(31),
		},
		"trading_hours": map[string]interface{}{
			"startHour": 9,
			"startMin":  30,
			"endHour":   16,
			"endMin":    0,
		},
	}
	for k, v := range overrides {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(raw)
}

func userTurns(content string) []transcript.Turn {
	return []transcript.Turn{
		{Kind: transcript.KindUser, Content: content, Timestamp: time.Now()},
	}
}

func TestMachine_DirectAnswer(t *testing.T) {
	provider := &scriptedProvider{
		decisions: []*Decision{
			{Content: "ES is an equity index future.", Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5}},
		},
	}
	executor := &fakeExecutor{}
	machine := newTestMachine(t, provider, executor, 5)

	outcome, err := machine.Run(context.Background(), userTurns("What is ES?"))
	require.NoError(t, err)

	assert.Equal(t, "ES is an equity index future.", outcome.Response)
	assert.Equal(t, StateTerminal, outcome.State)
	assert.Equal(t, StateTerminal, machine.State())
	assert.False(t, outcome.FellBack)
	assert.Equal(t, 0, outcome.ToolCalls)
	assert.Equal(t, 0, executor.callCount())

	require.Len(t, outcome.Turns, 1)
	assert.Equal(t, transcript.KindAssistant, outcome.Turns[0].Kind)
	assert.Equal(t, 10, outcome.Usage.InputTokens)
	assert.Equal(t, 5, outcome.Usage.OutputTokens)
}

func TestMachine_ToolRoundTrip(t *testing.T) {
	args := toolArgs(t, nil)
	provider := &scriptedProvider{
		decisions: []*Decision{
			{
				ToolCalls: []transcript.ToolCall{
					{ID: "call-1", Name: "calculate_volatility", Arguments: args},
				},
				Usage: &TokenUsage{InputTokens: 20, OutputTokens: 8},
			},
			{Content: "Volatility averaged 1.2% per 30-minute bar.", Usage: &TokenUsage{InputTokens: 30, OutputTokens: 12}},
		},
	}
	executor := &fakeExecutor{
		results: []*quantics.Result{
			{
				Success:           true,
				ChartsHTML:        "<div id=\"chart\"></div>",
				Metadata:          map[string]interface{}{"mean": 1.2},
				OutputDescription: "Mean absolute bar-to-bar change.",
			},
		},
	}
	machine := newTestMachine(t, provider, executor, 5)

	outcome, err := machine.Run(context.Background(), userTurns("How volatile was ES in January 2024?"))
	require.NoError(t, err)

	assert.Equal(t, "Volatility averaged 1.2% per 30-minute bar.", outcome.Response)
	assert.Equal(t, 1, outcome.ToolCalls)
	assert.False(t, outcome.FellBack)
	assert.Equal(t, 50, outcome.Usage.InputTokens)
	assert.Equal(t, 20, outcome.Usage.OutputTokens)

	// decision turn, tool result turn, final answer turn
	require.Len(t, outcome.Turns, 3)
	assert.Equal(t, transcript.KindAssistant, outcome.Turns[0].Kind)
	require.Len(t, outcome.Turns[0].ToolCalls, 1)
	assert.Equal(t, transcript.KindToolResult, outcome.Turns[1].Kind)
	assert.Equal(t, "call-1", outcome.Turns[1].ToolCallID)
	assert.Equal(t, "calculate_volatility", outcome.Turns[1].ToolName)
	assert.Equal(t, transcript.KindAssistant, outcome.Turns[2].Kind)

	summary := outcome.Turns[1].Content
	assert.True(t, strings.HasPrefix(summary, "Tool execution summary:\n"))
	assert.Contains(t, summary, "Tool Result (parsed dict):")
	assert.Contains(t, summary, "\"mean\":1.2")
	assert.Contains(t, summary, "Mean absolute bar-to-bar change.")
	assert.NotContains(t, summary, "chart")

	// The executor got the validated request, resolved to the right
	// statistic.
	require.Equal(t, 1, executor.callCount())
	assert.Equal(t, "Volatility", executor.descs[0].Name)
	assert.Equal(t, "ES", executor.requests[0].Asset)
	assert.Equal(t, 30, executor.requests[0].BarPeriod)
	assert.Equal(t, 20240102, executor.requests[0].StartDate)

	// The second model call saw the decision and its result.
	second := provider.request(t, 1)
	require.Len(t, second.Turns, 3)
	assert.Equal(t, transcript.KindToolResult, second.Turns[2].Kind)
	assert.Equal(t, "call-1", second.Turns[2].ToolCallID)
}

func TestMachine_MultipleToolCallsInOneDecision(t *testing.T) {
	args := toolArgs(t, nil)
	provider := &scriptedProvider{
		decisions: []*Decision{
			{
				ToolCalls: []transcript.ToolCall{
					{ID: "call-1", Name: "calculate_volatility", Arguments: args},
					{ID: "call-2", Name: "calculate_volume", Arguments: args},
				},
			},
			{Content: "Both computed."},
		},
	}
	executor := &fakeExecutor{}
	machine := newTestMachine(t, provider, executor, 5)

	outcome, err := machine.Run(context.Background(), userTurns("Volatility and volume for ES?"))
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.ToolCalls)
	assert.Equal(t, 2, executor.callCount())
	assert.Equal(t, "Volatility", executor.descs[0].Name)
	assert.Equal(t, "Volume", executor.descs[1].Name)

	require.Len(t, outcome.Turns, 4)
	assert.Equal(t, "call-1", outcome.Turns[1].ToolCallID)
	assert.Equal(t, "call-2", outcome.Turns[2].ToolCallID)
}

func TestMachine_ValidationFailureFoldsBack(t *testing.T) {
	bad := toolArgs(t, map[string]interface{}{"bar_period": 0})
	provider := &scriptedProvider{
		decisions: []*Decision{
			{ToolCalls: []transcript.ToolCall{{ID: "call-1", Name: "calculate_volatility", Arguments: bad}}},
			{Content: "The bar period must be at least one minute."},
		},
	}
	executor := &fakeExecutor{}
	machine := newTestMachine(t, provider, executor, 5)

	outcome, err := machine.Run(context.Background(), userTurns("Volatility with zero-minute bars?"))
	require.NoError(t, err)

	// The service was never touched; the failure came back as a turn
	// the model could react to, and the run still finished normally.
	assert.Equal(t, 0, executor.callCount())
	assert.Equal(t, "The bar period must be at least one minute.", outcome.Response)
	assert.False(t, outcome.FellBack)

	require.Len(t, outcome.Turns, 3)
	summary := outcome.Turns[1].Content
	assert.True(t, strings.HasPrefix(summary, "Tool execution summary:\nTool reported failure: "))
	assert.Contains(t, summary, "invalid tool request")
	assert.Contains(t, summary, "bar_period")
	// Exactly one rule broke, so there is no violation separator.
	assert.NotContains(t, summary, "; ")
}

func TestMachine_BudgetExhaustionFallback(t *testing.T) {
	args := toolArgs(t, nil)
	provider := &scriptedProvider{
		decisions: []*Decision{
			{ToolCalls: []transcript.ToolCall{{ID: "call-1", Name: "calculate_volatility", Arguments: args}}},
		},
	}
	executor := &fakeExecutor{
		results: []*quantics.Result{
			{Success: true, Metadata: map[string]interface{}{"mean": 1.2}},
		},
	}
	machine := newTestMachine(t, provider, executor, 1)

	outcome, err := machine.Run(context.Background(), userTurns("How volatile was ES?"))
	require.NoError(t, err)

	// The tool ran and succeeded, but with the budget spent its result
	// is overridden by the fixed fallback.
	assert.Equal(t, 1, executor.callCount())
	assert.Equal(t, 1, provider.callCount())
	assert.True(t, outcome.FellBack)
	assert.Equal(t, FallbackResponse, outcome.Response)
	assert.Equal(t, StateTerminal, outcome.State)

	require.Len(t, outcome.Turns, 3)
	assert.Equal(t, transcript.KindAssistant, outcome.Turns[0].Kind)
	assert.Equal(t, transcript.KindToolResult, outcome.Turns[1].Kind)
	assert.Equal(t, transcript.KindFallback, outcome.Turns[2].Kind)
	assert.Equal(t, FallbackResponse, outcome.Turns[2].Content)
}

func TestMachine_ToolFailureBecomesTurn(t *testing.T) {
	args := toolArgs(t, nil)
	provider := &scriptedProvider{
		decisions: []*Decision{
			{ToolCalls: []transcript.ToolCall{{ID: "call-1", Name: "calculate_volume", Arguments: args}}},
			{Content: "The data service reported an error."},
		},
	}
	executor := &fakeExecutor{
		results: []*quantics.Result{
			{Success: false, Error: "quantics request failed (status 500)"},
		},
	}
	machine := newTestMachine(t, provider, executor, 5)

	outcome, err := machine.Run(context.Background(), userTurns("Volume for ES?"))
	require.NoError(t, err)

	summary := outcome.Turns[1].Content
	assert.Contains(t, summary, "Tool reported failure: quantics request failed (status 500)")
	assert.Equal(t, "The data service reported an error.", outcome.Response)
}

func TestMachine_ExecutorErrorBecomesTurn(t *testing.T) {
	args := toolArgs(t, nil)
	provider := &scriptedProvider{
		decisions: []*Decision{
			{ToolCalls: []transcript.ToolCall{{ID: "call-1", Name: "calculate_volatility", Arguments: args}}},
			{Content: "Login to the data service failed."},
		},
	}
	executor := &fakeExecutor{
		errs: []error{&quantics.AuthError{Status: 401, Message: "bad credentials"}},
	}
	machine := newTestMachine(t, provider, executor, 5)

	outcome, err := machine.Run(context.Background(), userTurns("Volatility for ES?"))
	require.NoError(t, err)

	summary := outcome.Turns[1].Content
	assert.Contains(t, summary, "Tool reported failure:")
	assert.Contains(t, summary, "authentication failed")
	assert.Equal(t, "Login to the data service failed.", outcome.Response)
}

func TestMachine_UnknownToolBecomesTurn(t *testing.T) {
	provider := &scriptedProvider{
		decisions: []*Decision{
			{ToolCalls: []transcript.ToolCall{{ID: "call-1", Name: "calculate_sharpe", Arguments: "{}"}}},
			{Content: "That analysis is not available."},
		},
	}
	executor := &fakeExecutor{}
	machine := newTestMachine(t, provider, executor, 5)

	outcome, err := machine.Run(context.Background(), userTurns("Sharpe ratio for ES?"))
	require.NoError(t, err)

	assert.Equal(t, 0, executor.callCount())
	assert.Contains(t, outcome.Turns[1].Content, "unknown tool: calculate_sharpe")
	assert.Equal(t, "That analysis is not available.", outcome.Response)
}

func TestMachine_CancellationDiscardsRun(t *testing.T) {
	args := toolArgs(t, nil)
	provider := &scriptedProvider{
		decisions: []*Decision{
			{ToolCalls: []transcript.ToolCall{{ID: "call-1", Name: "calculate_volatility", Arguments: args}}},
		},
	}
	executor := &blockingExecutor{started: make(chan struct{})}
	machine := newTestMachine(t, provider, executor, 5)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-executor.started
		cancel()
	}()

	outcome, err := machine.Run(ctx, userTurns("Volatility for ES?"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, outcome)
}

func TestMachine_RetriesTransientProviderError(t *testing.T) {
	provider := &scriptedProvider{
		errs:      []error{fmt.Errorf("429 rate limit exceeded"), nil},
		decisions: []*Decision{nil, {Content: "Recovered."}},
	}
	executor := &fakeExecutor{}
	machine := newTestMachine(t, provider, executor, 5)
	machine.settings.MaxRetries = 1

	outcome, err := machine.Run(context.Background(), userTurns("Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", outcome.Response)
	assert.Equal(t, 2, provider.callCount())
}

func TestMachine_NonRetryableProviderErrorFails(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{fmt.Errorf("invalid API key")},
	}
	executor := &fakeExecutor{}
	machine := newTestMachine(t, provider, executor, 5)
	machine.settings.MaxRetries = 3

	_, err := machine.Run(context.Background(), userTurns("Hello"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key")
	assert.Equal(t, 1, provider.callCount())
}

func TestMachine_DefaultBudget(t *testing.T) {
	machine := newTestMachine(t, &scriptedProvider{}, &fakeExecutor{}, 0)
	assert.Equal(t, DefaultRunConfig().MaxToolRounds, machine.budget)
}

func TestMachine_DoesNotMutateHistory(t *testing.T) {
	provider := &scriptedProvider{
		decisions: []*Decision{{Content: "Done."}},
	}
	machine := newTestMachine(t, provider, &fakeExecutor{}, 5)

	history := userTurns("Hello")
	_, err := machine.Run(context.Background(), history)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
