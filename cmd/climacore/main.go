// Command climacore connects Home Assistant to the ClimaCore Brain.
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// app is shared by all subcommands once the root pre-run has loaded it.
type app struct {
	settings *settings
	logger   *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "climacore",
		Short:         "Home Assistant coordinator for the ClimaCore Brain",
		Long:          "Forwards Home Assistant state to the ClimaCore Brain and applies the climate actions it returns.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envErr := godotenv.Load()

			s, err := loadSettings()
			if err != nil {
				return err
			}
			logger, err := newLogger(s.LogLevel)
			if err != nil {
				return err
			}
			if envErr != nil {
				logger.Debug("No .env file found, using environment variables")
			}

			a.settings = s
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newPayloadCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "climacore %s\n", Version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
