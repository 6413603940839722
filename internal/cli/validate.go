package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strataquant/strata/internal/config"
	"github.com/strataquant/strata/pkg/analysis"
)

var validateCmd = &cobra.Command{
	Use:   "validate <payload.json>",
	Short: "Validate an analysis request payload",
	Long: `Validate runs a JSON payload through the analysis request rules and
prints every violation at once. The asset whitelist comes from the
config file when one exists, otherwise from the defaults.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	validator, err := analysis.NewValidator(cfg.Quantics.Assets)
	if err != nil {
		return fmt.Errorf("failed to build validator: %w", err)
	}

	out := cmd.OutOrStdout()
	req, err := validator.Validate(json.RawMessage(raw))
	if err != nil {
		var verr *analysis.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("%d violations:", len(verr.Violations))))
			for _, v := range verr.Violations {
				fmt.Fprintf(out, "  %s: %s\n", v.Field, v.Message)
			}
			return fmt.Errorf("payload failed validation")
		}
		return err
	}

	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("Payload is valid: %s %d to %d", req.Asset, req.StartDate, req.EndDate)))
	return nil
}
