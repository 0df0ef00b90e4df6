package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/saker-ai/lsf-avatar/pkg/runtime"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat endpoint and viewer broadcast server",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := runtime.New(ctx.configPath())
			if err != nil {
				return err
			}
			defer server.Logger().Sync()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(runCtx)
		},
	}
}
