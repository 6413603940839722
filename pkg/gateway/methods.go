package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/strataquant/strata/internal/tracing"
	"github.com/strataquant/strata/pkg/agent"
	"github.com/strataquant/strata/pkg/analysis"
	"github.com/strataquant/strata/pkg/transcript"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("analysis.ask", s.handleAnalysisAsk)
	_ = s.RegisterMethod("analysis.abort", s.handleAnalysisAbort)
	_ = s.RegisterMethod("request.validate", s.handleRequestValidate)
	_ = s.RegisterMethod("tools.list", s.handleToolsList)
	_ = s.RegisterMethod("conversation.history", s.handleConversationHistory)
	_ = s.RegisterMethod("clients.list", s.handleClientsList)
	_ = s.RegisterMethod("status", s.handleStatus)
}

// handleAnalysisAsk runs one prompt through the conversation machine.
// The call blocks until the run completes; produced turns are streamed
// to connected clients as turn.appended events on the way out.
func (s *Server) handleAnalysisAsk(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	prompt, ok := params["prompt"].(string)
	if !ok || prompt == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "prompt parameter is required and must be a string"}
	}

	conversation, _ := params["conversation"].(string)
	if conversation == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate conversation key: %w", err)
		}
		conversation = "conv-" + id
	}

	// Config overrides are optional; empty values keep server defaults.
	config := s.runDefaults
	if configMap, ok := params["config"].(map[string]interface{}); ok {
		if model, ok := configMap["model"].(string); ok && model != "" {
			config.Model = model
		}
		if temp, ok := configMap["temperature"].(float64); ok {
			config.Temperature = temp
		}
		if maxTokens, ok := configMap["maxTokens"].(float64); ok {
			config.MaxTokens = int(maxTokens)
		}
		if systemPrompt, ok := configMap["systemPrompt"].(string); ok {
			config.SystemPrompt = systemPrompt
		}
		if rounds, ok := configMap["maxToolRounds"].(float64); ok {
			config.MaxToolRounds = int(rounds)
		}
		if retries, ok := configMap["maxRetries"].(float64); ok {
			config.MaxRetries = int(retries)
		}
	}

	// A stable request ID lets the run queue replay the outcome when a
	// client resubmits after a dropped reply.
	requestID, _ := params["requestId"].(string)
	if requestID == "" {
		requestID = tracing.NewTraceID()
	}
	ctx = tracing.WithRequestID(ctx, requestID)

	result, err := s.runner.RunWithContext(ctx, agent.RunParams{
		Prompt:          prompt,
		ConversationKey: conversation,
		Config:          config,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis run failed: %w", err)
	}

	s.broadcastRunEvents(ctx, result)

	return map[string]interface{}{
		"response":     result.Response,
		"conversation": result.ConversationKey,
		"turns":        result.Turns,
		"toolCalls":    result.ToolCalls,
		"fellBack":     result.FellBack,
		"aborted":      result.Aborted,
		"usage":        result.Usage,
		"requestId":    requestID,
	}, nil
}

// broadcastRunEvents streams the turns a run produced, then signals
// completion.
func (s *Server) broadcastRunEvents(ctx context.Context, result *agent.RunResult) {
	traceID := tracing.GetTraceID(ctx)

	for _, turn := range result.Turns {
		s.broadcaster.BroadcastTyped(EventMessage{
			Event:        "turn.appended",
			Stream:       StreamTypeTurn,
			Phase:        turn.Kind,
			Conversation: result.ConversationKey,
			TraceID:      traceID,
			Data:         turn,
		})
	}

	s.broadcaster.BroadcastTyped(EventMessage{
		Event:        "conversation.completed",
		Stream:       StreamTypeLifecycle,
		Phase:        "completed",
		Conversation: result.ConversationKey,
		TraceID:      traceID,
		Data: map[string]interface{}{
			"response":  result.Response,
			"toolCalls": result.ToolCalls,
			"fellBack":  result.FellBack,
			"aborted":   result.Aborted,
		},
	})
}

// handleAnalysisAbort cancels the in-flight run for a conversation.
func (s *Server) handleAnalysisAbort(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	conversation, ok := params["conversation"].(string)
	if !ok || conversation == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "conversation parameter is required and must be a string"}
	}

	running := s.runner.IsRunning(conversation)
	if err := s.runner.Abort(conversation); err != nil {
		return nil, fmt.Errorf("failed to abort run: %w", err)
	}

	return map[string]interface{}{
		"aborted": running,
	}, nil
}

// handleRequestValidate checks a statistics request payload without
// dispatching it. Rule violations come back in the result, not as an
// RPC error, so callers can present all of them at once.
func (s *Server) handleRequestValidate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	payload, ok := params["request"]
	if !ok {
		return nil, &RPCError{Code: InvalidParams, Message: "request parameter is required"}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request payload: %w", err)
	}

	request, err := s.validator.Validate(raw)
	if err != nil {
		var vErr *analysis.ValidationError
		if errors.As(err, &vErr) {
			return map[string]interface{}{
				"valid":      false,
				"violations": vErr.Violations,
			}, nil
		}
		return nil, err
	}

	return map[string]interface{}{
		"valid":   true,
		"request": request,
	}, nil
}

// handleToolsList returns the statistic tool catalog the model sees.
func (s *Server) handleToolsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"tools": s.runner.Catalog(),
	}, nil
}

// handleConversationHistory returns the persisted turns of a conversation.
func (s *Server) handleConversationHistory(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	conversation, ok := params["conversation"].(string)
	if !ok || conversation == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "conversation parameter is required and must be a string"}
	}

	reqCtx := tracing.WithConversationID(ctx, conversation)
	entries, err := s.transcripts.LoadWithContext(reqCtx, conversation)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	turns := make([]transcript.Turn, 0, len(entries))
	for _, entry := range entries {
		turns = append(turns, entry.Turn)
	}

	return map[string]interface{}{
		"conversation": conversation,
		"turns":        turns,
	}, nil
}

// handleClientsList returns connection details for every client.
func (s *Server) handleClientsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"clients": s.GetConnectedClients(),
	}, nil
}

// handleStatus reports server health and basic counters.
func (s *Server) handleStatus(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	conversations, err := s.transcripts.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	return map[string]interface{}{
		"status":        "ok",
		"uptime_ms":     time.Since(s.startedAt).Milliseconds(),
		"clients":       s.clients.Count(),
		"conversations": len(conversations),
		"tools":         len(s.runner.Catalog()),
		"methods":       s.router.GetMethods(),
	}, nil
}
