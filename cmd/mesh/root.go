package main

import (
	"fmt"
	"os"

	"github.com/dkeye/Mesh/internal/adapters/term"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagServer   string
	flagName     string
	flagAvatar   string
	flagCapture  string
	flagLogLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Mesh video calls from the terminal",
	Long: `mesh joins a room on a Mesh relay and connects to every other participant
directly over WebRTC. The relay only carries presence and signaling.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)
		cfg = loaded

		level := zerolog.WarnLevel
		if flagLogLevel != "" {
			if lvl, err := zerolog.ParseLevel(flagLogLevel); err == nil && lvl != zerolog.NoLevel {
				level = lvl
			}
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "relay signal endpoint (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&flagName, "name", "", "display name")
	rootCmd.PersistentFlags().StringVar(&flagAvatar, "avatar", "", "avatar reference")
	rootCmd.PersistentFlags().StringVar(&flagCapture, "capture", "", "capture backend: devices, synthetic or none")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level written to stderr")

	rootCmd.AddCommand(joinCmd, roomsCmd)
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("server") {
		c.Client.ServerURL = flagServer
	}
	if flags.Changed("name") {
		c.Client.DisplayName = flagName
	}
	if flags.Changed("avatar") {
		c.Client.Avatar = flagAvatar
	}
	if flags.Changed("capture") {
		c.Client.Capture = flagCapture
	}
}

func Execute() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, term.ErrorStyle.Render("x "+err.Error()))
		os.Exit(1)
	}
}
