// Command relay serves the real-time presence and message relay.
//
// Clients connect over WebSocket, announce a username with an identify event
// and exchange direct messages addressed by username. Routing state lives in
// memory only.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/colabhub/relay/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	v := config.New()

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay - real-time presence and direct message relay",
		Long: `Relay accepts WebSocket connections, binds each one to the username it
announces and forwards direct messages to whichever connection currently
holds the recipient's name.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "relay", version)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("port", "", "Port to listen on (env PORT, default 4000)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")
	flags.String("allowed-origins", "", "Comma separated origin allow-list, * for any (env RELAY_ALLOWED_ORIGINS)")
	flags.String("env-file", ".env", "Optional .env file to load before reading the environment")
	// Flags only override the environment when set explicitly
	_ = v.BindPFlag(config.KeyPort, flags.Lookup("port"))
	_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = v.BindPFlag(config.KeyAllowedOrigins, flags.Lookup("allowed-origins"))

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		envFile, _ := cmd.Flags().GetString("env-file")
		config.LoadDotEnv(envFile)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
