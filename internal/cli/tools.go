package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strataquant/strata/internal/config"
	"github.com/strataquant/strata/pkg/agent"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the statistic catalog",
	Long: `Tools prints every statistic the model can request, with the
model-facing tool name and the Quantics endpoint behind it.`,
	SilenceUsage: true,
	RunE:         runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	registry, err := buildRegistry(cfg.Catalog)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, desc := range registry.List() {
		fmt.Fprintln(out, headingStyle.Render(desc.Name))
		fmt.Fprintln(out, toolCallStyle.Render("  "+agent.ToolName(desc.Name)))
		fmt.Fprintf(out, "  endpoint: %s\n", desc.Endpoint)
		fmt.Fprintf(out, "  %s\n", desc.Description)
		if desc.OutputDescription != "" {
			fmt.Fprintln(out, dimStyle.Render("  returns: "+truncate(desc.OutputDescription, 200)))
		}
		fmt.Fprintln(out)
	}
	return nil
}
