// The muxserver command runs a single-threaded TCP server that multiplexes
// every client connection over select(2) or poll(2), hosting either the echo
// or the broadcast chat handler.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dcrodman/muxserver/internal"
	"github.com/dcrodman/muxserver/internal/core"
)

var ConfigFlag string

func main() {
	v := core.NewViper()

	rootCmd := &cobra.Command{
		Use:   "muxserver",
		Short: "Readiness-multiplexed echo and chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ServerCommand(cmd.Context(), v)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "", "Path to the directory containing config.yaml")

	flags := rootCmd.Flags()
	flags.Int("port", 9000, "Port to listen on")
	flags.String("backend", core.BackendPoll, "Readiness backend (select or poll)")
	flags.String("handler", core.HandlerChat, "Connection handler (echo or chat)")
	for _, name := range []string{"port", "backend", "handler"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}

	// Register a SIGTERM handler so that Ctrl-C will shut the server down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}

func ServerCommand(ctx context.Context, v *viper.Viper) error {
	config, err := core.LoadConfig(v, ConfigFlag)
	if err != nil {
		return err
	}
	if path := v.ConfigFileUsed(); path != "" {
		fmt.Println("using configuration file:", path)
	}
	fmt.Printf("starting %s server (%s) on %s\n", config.Handler, config.Backend, config.ListenAddress())

	controller := &internal.Controller{Config: config}
	if err := controller.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("shut down")
	return nil
}
