package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strataquant/strata/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Init writes a config file with default settings. Add an AI profile
and the Quantics login before running ask or serve.`,
	SilenceUsage: true,
	RunE:         runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	if err := loader.Save(config.DefaultConfig()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	cmd.Printf("Wrote %s\n", path)
	cmd.Println("Add an AI profile under ai.profiles and the Quantics login under quantics, then run: strata ask \"...\"")
	return nil
}
