// Package agent runs the tool-dispatch loop between conversations and
// the model providers.
//
// Invariants:
// - Runs are serialized per conversation lane through runqueue.
// - Conversation history is loaded before execution; new turns are
//   persisted only after a run completes, so an aborted run never
//   leaves a dangling tool call in the transcript.
// - Tool calls route through the Dispatcher only. Validation and
//   execution failures become tool-result turns the model can react
//   to; they never abort the run.
// - The decision budget bounds model decisions per run. Exhausting it
//   substitutes the fixed fallback response for whatever the model
//   would have produced next.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	result, _ := runner.Run(agent.RunParams{
//		Prompt:          "How volatile was ES in March 2024?",
//		ConversationKey: "conv-1",
//		Config:          agent.DefaultRunConfig(),
//	})
//	_ = result
package agent
