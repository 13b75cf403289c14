package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/rsvpbot/internal/tracing"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/rsvpbot/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "rsvpbot",
	Short: "RSVPBot: Zulip bot for event RSVPs",
	Long:  "RSVPBot binds Zulip threads to calendar events and lets people RSVP, list attendees and ping them with chat commands.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $RSVPBOT_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rsvpbot %s (%s)\n", Version, runtime.Version())
		},
	}
}

func setupLogging() {
	slog.SetDefault(tracing.NewLogger(os.Stdout, verbose))
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("RSVPBOT_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
