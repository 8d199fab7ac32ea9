package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tfst/carrier-portal/internal/app"
	"github.com/tfst/carrier-portal/internal/tools/common"
	"github.com/tfst/carrier-portal/internal/tools/smoke"
)

func main() {
	root := &cobra.Command{
		Use:          "portal",
		Short:        "Carrier portal backend",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(smoke.NewRootCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "env file loaded before configuration")
	return cmd
}
