package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solace-labs/sessiond/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file to the config path. Existing
configuration is preserved unless --force is given.`,
	RunE: runConfigure,
}

var configureForce bool

func init() {
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()

	if _, err := os.Stat(path); err == nil && !configureForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := loader.Save(config.DefaultConfig()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	cmd.Printf("Wrote default configuration to %s\n", path)
	cmd.Println("Set ai.api_key (or the SESSIOND_AI_API_KEY environment variable) before starting.")
	return nil
}
