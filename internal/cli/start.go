package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solace-labs/sessiond/internal/config"
	"github.com/solace-labs/sessiond/internal/daemon"
	"github.com/solace-labs/sessiond/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sessiond daemon",
	Long: `Start the sessiond daemon in the foreground. The process serves the
websocket session protocol and runs until it receives SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, loader.GetConfigPath(), log)
	if err != nil {
		return err
	}

	return d.Run()
}
