package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/candrapwr/meet-datasiber/internal/config"
	"github.com/candrapwr/meet-datasiber/internal/ui"
	"github.com/candrapwr/meet-datasiber/internal/version"
)

// Flags shared by the commands that talk to a server.
var (
	flagServer string
	flagDomain string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meet",
	Short: "Terminal client for peer-to-peer video meetings",
	Long: `meet joins rooms on a meet signaling server. The first person in a room
becomes its host and lets everyone else in; media flows directly between
participants over WebRTC.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func loadConfig(opts config.Options) (*config.Config, error) {
	opts.Server = flagServer
	opts.Domain = flagDomain
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, &commandError{op: "load config", err: err}
	}
	return cfg, nil
}

type commandError struct {
	op  string
	err error
}

func (e *commandError) Error() string { return e.op + ": " + e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Signaling server WebSocket URL (env MEET_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&flagDomain, "domain", "d", "", "Signaling server domain, expands to wss://<domain>/ws (env DOMAIN)")
}
