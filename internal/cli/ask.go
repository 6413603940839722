package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/strataquant/strata/pkg/agent"
	"github.com/strataquant/strata/pkg/transcript"
)

var (
	askConversation  string
	askMaxToolRounds int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a statistical analysis question",
	Long: `Ask runs one conversation turn against the configured model. The
model may call Quantics statistics tools before answering; tool activity
and the final answer are printed. Pass --conversation to ask follow-up
questions in the same transcript.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "conversation key to continue (default starts a new one)")
	askCmd.Flags().IntVar(&askMaxToolRounds, "max-tool-rounds", 0, "override the configured tool round budget")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	conversation := askConversation
	if conversation == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate conversation key: %w", err)
		}
		conversation = "cli-" + id
	}

	runCfg := rt.runDefaults()
	if askMaxToolRounds > 0 {
		runCfg.MaxToolRounds = askMaxToolRounds
	}

	// Ctrl-C aborts the run; an aborted run persists nothing.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	result, err := rt.runner.RunWithContext(ctx, agent.RunParams{
		Prompt:          args[0],
		ConversationKey: conversation,
		Config:          runCfg,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			cmd.Println("Run aborted.")
			return nil
		}
		return err
	}
	if result.Aborted {
		cmd.Println("Run aborted.")
		return nil
	}

	turns := result.Turns
	if n := len(turns); n > 0 && turns[n-1].Kind == transcript.KindFallback {
		turns = turns[:n-1] // the boxed answer below carries it
	}
	for _, turn := range turns {
		renderTurn(out, turn)
	}

	if result.FellBack {
		fmt.Fprintln(out, fallbackStyle.Render(result.Response))
	} else {
		renderAnswer(out, result.Response)
	}

	footer := fmt.Sprintf("conversation %s", result.ConversationKey)
	if result.ToolCalls > 0 {
		footer += fmt.Sprintf(" | %d tool calls", result.ToolCalls)
	}
	if result.Usage != nil {
		footer += fmt.Sprintf(" | %d in / %d out tokens", result.Usage.InputTokens, result.Usage.OutputTokens)
	}
	fmt.Fprintln(out, dimStyle.Render(footer))

	return nil
}
