package commands

import (
	"fmt"
	"os"

	"github.com/lexsync/lexsync/internal/config"
	"github.com/spf13/cobra"
)

var (
	generateOutput string
	generateForce  bool
)

var generateConfigCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Write a sample configuration file",
	RunE:  runGenerateConfig,
}

func init() {
	generateConfigCmd.Flags().StringVarP(&generateOutput, "output", "o", "lexsync.yaml", "Destination path")
	generateConfigCmd.Flags().BoolVarP(&generateForce, "force", "f", false, "Overwrite an existing file")
	rootCmd.AddCommand(generateConfigCmd)
}

func runGenerateConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(generateOutput); err == nil && !generateForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", generateOutput)
	}
	if err := config.GenerateSample(generateOutput); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", generateOutput)
	return nil
}
