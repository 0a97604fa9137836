package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexcodex/parley/config"
)

var (
	cfgFile string
	dataDir string

	globalCfg config.Config
)

// Execute is the entry point for the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "parley",
		Short:         "Turn-taking orchestrator for two agents and a human moderator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				cfgFile = config.DefaultConfigPath()
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if err := cfg.Normalize(); err != nil {
				return err
			}
			globalCfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to parley config file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory override")

	root.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newSayCmd(),
		newStopCmd(),
		newAdvanceCmd(),
		newSessionCmd(),
		newConfigCmd(),
	)
	return root
}
