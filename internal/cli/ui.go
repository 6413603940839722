package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/strataquant/strata/pkg/agent"
	"github.com/strataquant/strata/pkg/transcript"
)

// UI styles
var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	answerStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#10B981")).
			Padding(0, 1)

	toolCallStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8B5CF6"))

	toolResultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	fallbackStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))
)

// renderTurn writes one transcript turn in its kind's style. Assistant
// answers are left to the caller, which boxes the final one separately.
func renderTurn(w io.Writer, turn transcript.Turn) {
	switch turn.Kind {
	case transcript.KindUser:
		fmt.Fprintln(w, promptStyle.Render("> "+turn.Content))
	case transcript.KindAssistant:
		for _, call := range turn.ToolCalls {
			fmt.Fprintln(w, toolCallStyle.Render(fmt.Sprintf("  [tool] %s %s", call.Name, truncate(call.Arguments, 100))))
		}
		if turn.Content != "" && len(turn.ToolCalls) > 0 {
			fmt.Fprintln(w, dimStyle.Render("  "+truncate(turn.Content, 200)))
		}
	case transcript.KindToolResult:
		detail := strings.TrimPrefix(turn.Content, agent.SummaryHeader)
		fmt.Fprintln(w, toolResultStyle.Render("  "+truncate(firstLine(detail), 120)))
	case transcript.KindFallback:
		fmt.Fprintln(w, fallbackStyle.Render("  "+turn.Content))
	}
}

// renderAnswer boxes the final response.
func renderAnswer(w io.Writer, response string) {
	fmt.Fprintln(w, answerStyle.Render(response))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
