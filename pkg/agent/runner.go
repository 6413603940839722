package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/strataquant/strata/internal/observability"
	"github.com/strataquant/strata/internal/tracing"
	"github.com/strataquant/strata/pkg/analysis"
	"github.com/strataquant/strata/pkg/quantics"
	"github.com/strataquant/strata/pkg/runqueue"
	"github.com/strataquant/strata/pkg/stats"
	"github.com/strataquant/strata/pkg/transcript"
)

const defaultSystemPrompt = "You are a helpful AI assistant."

// maxContextTokens caps the estimated prompt size before old turns are
// trimmed from the model's view. The transcript itself is never trimmed.
const maxContextTokens = 100000

// recentTurnsKept is how much of the tail survives a trim.
const recentTurnsKept = 20

// Runner coordinates conversation runs: it serializes them per
// conversation through the run queue, persists turns in the transcript
// store, and fails over between auth profiles when a provider is down.
type Runner struct {
	transcripts *transcript.Store
	dispatcher  *Dispatcher
	catalog     []ToolSpec
	queue       *runqueue.Queue
	factory     Factory
	logger      zerolog.Logger

	authProfiles []AuthProfile
	authMu       sync.RWMutex

	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// Config assembles a Runner's collaborators.
type Config struct {
	Transcripts  *transcript.Store
	Registry     *stats.Registry
	Validator    *analysis.Validator
	Executor     quantics.Executor
	Queue        *runqueue.Queue
	Factory      Factory
	Logger       zerolog.Logger
	AuthProfiles []AuthProfile
}

// NewRunner validates the config and builds the runner. The tool
// catalog is derived from the registry once at startup.
func NewRunner(config Config) (*Runner, error) {
	if config.Transcripts == nil {
		return nil, fmt.Errorf("transcript store is required")
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("statistic registry is required")
	}
	if config.Validator == nil {
		return nil, fmt.Errorf("request validator is required")
	}
	if config.Executor == nil {
		return nil, fmt.Errorf("statistic executor is required")
	}
	if config.Queue == nil {
		return nil, fmt.Errorf("run queue is required")
	}
	if len(config.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}

	factory := config.Factory
	if factory == nil {
		factory = NewFactory()
	}

	profiles := make([]AuthProfile, len(config.AuthProfiles))
	copy(profiles, config.AuthProfiles)
	sortProfilesByPriority(profiles)

	return &Runner{
		transcripts:  config.Transcripts,
		dispatcher:   NewDispatcher(config.Registry, config.Validator, config.Executor, config.Logger),
		catalog:      BuildCatalog(config.Registry, config.Validator),
		queue:        config.Queue,
		factory:      factory,
		logger:       config.Logger,
		authProfiles: profiles,
		activeRuns:   make(map[string]context.CancelFunc),
	}, nil
}

// Catalog returns the model-facing tool definitions.
func (r *Runner) Catalog() []ToolSpec {
	return r.catalog
}

// Profiles returns a snapshot of the auth profiles with their current
// failure state.
func (r *Runner) Profiles() []AuthProfile {
	return r.snapshotProfiles()
}

// Run executes one prompt against a conversation, blocking until the
// run completes or fails.
func (r *Runner) Run(params RunParams) (*RunResult, error) {
	return r.RunWithContext(context.Background(), params)
}

// RunWithContext executes one prompt against a conversation. Runs on
// the same conversation are serialized through its queue lane; runs on
// different conversations proceed in parallel.
func (r *Runner) RunWithContext(ctx context.Context, params RunParams) (*RunResult, error) {
	ctx = tracing.NewRunContext(ctx, params.ConversationKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"strata.agent",
		"agent.run",
		attribute.String("conversation_id", params.ConversationKey),
		attribute.String("model", params.Config.Model),
	)
	defer span.End()

	if params.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if params.ConversationKey == "" {
		return nil, fmt.Errorf("conversation key is required")
	}
	if err := r.validateConfig(params.Config); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	lane := runqueue.ConversationLane(params.ConversationKey)
	result, err := r.queue.EnqueueWithContext(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return r.executeRun(taskCtx, params)
	}, &runqueue.TaskOptions{WarnAfterMs: 5000})
	if err != nil {
		return nil, err
	}

	runResult, ok := result.(*RunResult)
	if !ok {
		return nil, fmt.Errorf("unexpected run result type %T", result)
	}
	return runResult, nil
}

// executeRun is the body of one queued run. It loads history, persists
// the prompt, drives the machine, and persists the produced turns only
// after the machine finishes, so an aborted run never leaves a dangling
// tool call in the transcript.
func (r *Runner) executeRun(ctx context.Context, params RunParams) (*RunResult, error) {
	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[params.ConversationKey] = cancel
	r.runsMu.Unlock()

	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, params.ConversationKey)
		r.runsMu.Unlock()
	}()

	select {
	case <-ctx.Done():
		logger.Warn().Msg("Run aborted before it started")
		return &RunResult{ConversationKey: params.ConversationKey, Aborted: true}, nil
	default:
	}

	history, err := r.loadHistory(ctx, params.ConversationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	userTurn := transcript.Turn{
		Kind:      transcript.KindUser,
		Content:   params.Prompt,
		Timestamp: time.Now(),
	}
	if err := r.transcripts.AppendWithContext(ctx, params.ConversationKey, userTurn); err != nil {
		return nil, fmt.Errorf("failed to record prompt: %w", err)
	}

	turns := append(history, userTurn)
	turns = compactIfNeeded(turns, maxContextTokens)

	outcome, profileID, err := r.executeWithFailover(ctx, turns, params)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn().Msg("Run aborted")
			return &RunResult{ConversationKey: params.ConversationKey, Aborted: true}, nil
		}
		return nil, err
	}

	for _, turn := range outcome.Turns {
		if err := r.transcripts.AppendWithContext(ctx, params.ConversationKey, turn); err != nil {
			return nil, fmt.Errorf("failed to record turn: %w", err)
		}
	}

	logger.Info().
		Str("profile", profileID).
		Int("toolCalls", outcome.ToolCalls).
		Bool("fellBack", outcome.FellBack).
		Dur("duration", time.Since(start)).
		Msg("Run completed")

	return &RunResult{
		Response:        outcome.Response,
		ConversationKey: params.ConversationKey,
		Turns:           append([]transcript.Turn{userTurn}, outcome.Turns...),
		ToolCalls:       outcome.ToolCalls,
		FellBack:        outcome.FellBack,
		Usage:           outcome.Usage,
	}, nil
}

// executeWithFailover tries each auth profile in priority order until
// one completes the run. Profiles that fail go into cooldown so later
// runs skip them while the outage lasts.
func (r *Runner) executeWithFailover(ctx context.Context, turns []transcript.Turn, params RunParams) (*RunOutcome, string, error) {
	profiles := r.snapshotProfiles()

	var lastErr error
	for i := range profiles {
		profile := profiles[i]

		if profile.CooldownTime > time.Now().UnixMilli() {
			r.logger.Debug().
				Str("profile", profile.ID).
				Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := r.factory.Create(profile)
		if err != nil {
			lastErr = err
			continue
		}

		settings := ModelSettings{
			Model:        params.Config.Model,
			Temperature:  params.Config.Temperature,
			MaxTokens:    params.Config.MaxTokens,
			SystemPrompt: params.Config.SystemPrompt,
			MaxRetries:   params.Config.MaxRetries,
		}
		if settings.MaxTokens <= 0 {
			settings.MaxTokens = DefaultRunConfig().MaxTokens
		}
		if settings.SystemPrompt == "" {
			settings.SystemPrompt = defaultSystemPrompt
		}

		machine := NewMachine(provider, r.dispatcher, r.catalog, settings, params.Config.MaxToolRounds, r.logger)

		attemptStart := time.Now()
		outcome, err := machine.Run(ctx, turns)
		observability.RecordAgentRun(profile.Provider, time.Since(attemptStart), err == nil)
		if err == nil {
			r.clearProfileFailure(profile.ID)
			return outcome, profile.ID, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, "", err
		}

		r.markProfileFailure(profile.ID)

		if !IsRetryableError(err) {
			// Permanent errors (bad model name, malformed request) fail
			// the same way everywhere.
			return nil, "", err
		}

		r.logger.Warn().
			Str("profile", profile.ID).
			Err(err).
			Msg("Provider failed, trying next profile")
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("all providers failed: %w", lastErr)
	}
	return nil, "", fmt.Errorf("no auth profile available")
}

// loadHistory reads the persisted conversation as a turn list. A
// conversation that does not exist yet is just empty.
func (r *Runner) loadHistory(ctx context.Context, conversationKey string) ([]transcript.Turn, error) {
	entries, err := r.transcripts.LoadWithContext(ctx, conversationKey)
	if err != nil {
		return nil, err
	}

	turns := make([]transcript.Turn, 0, len(entries))
	for _, entry := range entries {
		turns = append(turns, entry.Turn)
	}
	return turns, nil
}

func (r *Runner) validateConfig(config RunConfig) error {
	if config.Model == "" {
		return fmt.Errorf("model is required")
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be non-negative")
	}
	if config.MaxToolRounds < 0 {
		return fmt.Errorf("max tool rounds must be non-negative")
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative")
	}
	return nil
}

// Abort cancels the in-flight run for a conversation, if any.
func (r *Runner) Abort(conversationKey string) error {
	r.runsMu.Lock()
	cancel, ok := r.activeRuns[conversationKey]
	if ok {
		delete(r.activeRuns, conversationKey)
	}
	r.runsMu.Unlock()

	if ok {
		cancel()
		r.logger.Info().
			Str("conversation", conversationKey).
			Msg("Aborted active run")
	}
	return nil
}

// IsRunning reports whether a conversation has a run in flight.
func (r *Runner) IsRunning(conversationKey string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()
	_, ok := r.activeRuns[conversationKey]
	return ok
}

func (r *Runner) snapshotProfiles() []AuthProfile {
	r.authMu.RLock()
	defer r.authMu.RUnlock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	return profiles
}

// markProfileFailure bumps the failure count and pushes the cooldown
// out one minute per accumulated failure.
func (r *Runner) markProfileFailure(id string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()
	for i := range r.authProfiles {
		if r.authProfiles[i].ID == id {
			r.authProfiles[i].FailureCount++
			r.authProfiles[i].CooldownTime = time.Now().UnixMilli() + int64(60000*r.authProfiles[i].FailureCount)
			return
		}
	}
}

func (r *Runner) clearProfileFailure(id string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()
	for i := range r.authProfiles {
		if r.authProfiles[i].ID == id {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownTime = 0
			return
		}
	}
}

// sortProfilesByPriority orders profiles ascending by priority, so the
// lowest number runs first.
func sortProfilesByPriority(profiles []AuthProfile) {
	for i := 1; i < len(profiles); i++ {
		current := profiles[i]
		j := i - 1
		for j >= 0 && profiles[j].Priority > current.Priority {
			profiles[j+1] = profiles[j]
			j--
		}
		profiles[j+1] = current
	}
}

// compactIfNeeded trims old turns when the estimated prompt size gets
// too large. The trim boundary walks back to a user turn so the model
// never sees a tool result without its originating call.
func compactIfNeeded(turns []transcript.Turn, maxTokens int) []transcript.Turn {
	if EstimateTokens(turns) <= maxTokens {
		return turns
	}

	start := len(turns) - recentTurnsKept
	if start < 0 {
		start = 0
	}
	for start > 0 && turns[start].Kind != transcript.KindUser {
		start--
	}
	return turns[start:]
}
