// Orvibo-relay controls Orvibo/Homemate devices through the vendor's cloud
// relay.
//
// It opens the mutually authenticated relay session described in the config
// file, logs in with the account credentials and then either watches pushed
// device state or sends a single command.
//
// Usage:
//
//	orvibo-relay [command] [flags]
//
// See 'orvibo-relay --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/orvibo-relay/internal/logging"
	"github.com/muurk/orvibo-relay/internal/relay"
	"github.com/muurk/orvibo-relay/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := hintFor(err); hint != "" {
			fmt.Fprintf(os.Stderr, "\n%s\n", hint)
		}
		os.Exit(1)
	}
}

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "orvibo-relay",
	Short: "Orvibo relay session client",
	Long: `Control Orvibo/Homemate switches, air conditioners and ventilation units
through the vendor's cloud relay.

The relay address, TLS material, account and device list are read from the
config file (see --config). Push updates are shown with 'watch'; the other
commands send one command and exit.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when empty unless "+logging.LogLevelEnvVar+" is set")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orvibo-relay %s\n", version.Full())
	},
}

// hintFor returns troubleshooting advice for relay errors.
func hintFor(err error) string {
	if relay.IsConnectError(err) || relay.IsAuthError(err) || isExhausted(err) {
		return relay.TroubleshootingHint(err)
	}
	return ""
}
