package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NullCoward/HolonAI/pkg/holonconfig"
)

// Information to find out exactly which commit the daemon was built from.
// These are filled at build time with the -X linker flag.
var (
	Commit    = "unknown"
	BuildTime = "unknown"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "holond",
		Short: "Holonic agent runtime daemon",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the heartbeat loop and inspection API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg, err := holonconfig.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg)
		},
	}

	exampleConfig := &cobra.Command{
		Use:   "example-config",
		Short: "Print the example configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(holonconfig.ExampleConfig)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("holond %s (commit %s, built %s)\n", version, Commit, BuildTime)
		},
	}

	cmd.AddCommand(serve, exampleConfig, versionCmd)
	return cmd
}
