package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/strataquant/strata/internal/observability"
	"github.com/strataquant/strata/internal/tracing"
	"github.com/strataquant/strata/pkg/analysis"
	"github.com/strataquant/strata/pkg/quantics"
	"github.com/strataquant/strata/pkg/stats"
	"github.com/strataquant/strata/pkg/transcript"
)

// SummaryHeader opens every tool-result turn fed back to the model.
const SummaryHeader = "Tool execution summary:\n"

// Dispatcher turns a model tool call into a validated statistic request,
// executes it, and renders the outcome as conversation text. Every
// failure except context cancellation becomes a summary the model can
// correct or report; none escapes the run as an error.
type Dispatcher struct {
	validator *analysis.Validator
	executor  quantics.Executor
	logger    zerolog.Logger
	byTool    map[string]stats.Descriptor
}

// NewDispatcher wires the validator, registry and executor together.
func NewDispatcher(registry *stats.Registry, validator *analysis.Validator, executor quantics.Executor, logger zerolog.Logger) *Dispatcher {
	byTool := make(map[string]stats.Descriptor, registry.Len())
	for _, desc := range registry.List() {
		byTool[ToolName(desc.Name)] = desc
	}
	return &Dispatcher{
		validator: validator,
		executor:  executor,
		logger:    logger,
		byTool:    byTool,
	}
}

// Dispatch runs one tool call end to end and returns the summary text
// for its tool-result turn.
func (d *Dispatcher) Dispatch(ctx context.Context, call transcript.ToolCall) (string, error) {
	logger := tracing.LoggerFromContext(ctx, d.logger)
	actor := tracing.GetConversationID(ctx)

	desc, ok := d.byTool[call.Name]
	if !ok {
		logger.Warn().Str("tool", call.Name).Msg("Model requested unknown tool")
		return failureSummary(fmt.Sprintf("unknown tool: %s", call.Name)), nil
	}

	req, err := d.validator.Validate(json.RawMessage(call.Arguments))
	if err != nil {
		observability.RecordValidation(desc.Name, false)
		var verr *analysis.ValidationError
		if errors.As(err, &verr) {
			for _, field := range verr.Fields() {
				observability.RecordViolation(field)
			}
		}
		logger.Warn().
			Str("statistic", desc.Name).
			Err(err).
			Msg("Tool request failed validation")
		observability.RecordDispatchAudit(ctx, desc.Name, actor, "rejected", map[string]interface{}{
			"reason": err.Error(),
		})
		return failureSummary(err.Error()), nil
	}
	observability.RecordValidation(desc.Name, true)

	result, err := d.executor.Execute(ctx, desc, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Login failures and other executor errors stay inside the
		// conversation so the model can report them.
		logger.Error().
			Str("statistic", desc.Name).
			Err(err).
			Msg("Statistic execution failed")
		observability.RecordDispatchAudit(ctx, desc.Name, actor, "failure", map[string]interface{}{
			"reason": err.Error(),
		})
		return failureSummary(err.Error()), nil
	}

	if !result.Success {
		logger.Warn().
			Str("statistic", desc.Name).
			Str("error", result.Error).
			Msg("Statistic reported failure")
		observability.RecordDispatchAudit(ctx, desc.Name, actor, "failure", map[string]interface{}{
			"reason": result.Error,
		})
		return failureSummary(result.Error), nil
	}

	logger.Info().
		Str("statistic", desc.Name).
		Str("asset", req.Asset).
		Msg("Statistic executed")
	observability.RecordDispatchAudit(ctx, desc.Name, actor, "success", nil)

	return successSummary(result), nil
}

// failureSummary renders an error as the fixed summary shape the model
// is prompted to recognize.
func failureSummary(detail string) string {
	return SummaryHeader + "Tool reported failure: " + detail
}

// successSummary renders the parsed response fields the model needs.
// Chart HTML is withheld; it is display payload, not decision input.
func successSummary(result *quantics.Result) string {
	parsed := map[string]interface{}{
		"success": result.Success,
	}
	if result.Metadata != nil {
		parsed["metadata"] = result.Metadata
	}
	if result.OutputDescription != "" {
		parsed["output_description"] = result.OutputDescription
	}

	body, err := json.Marshal(parsed)
	if err != nil {
		return SummaryHeader + fmt.Sprintf("Tool Result (parsed dict): {\"success\": %t}", result.Success)
	}
	return SummaryHeader + "Tool Result (parsed dict): " + string(body)
}
