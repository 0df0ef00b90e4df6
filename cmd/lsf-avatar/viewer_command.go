package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/lsf-avatar/internal/config"
	"github.com/saker-ai/lsf-avatar/internal/viewer"
)

func newViewerCommand(ctx *commandContext) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "viewer",
		Short: "Follow a server's broadcast and print captions and animation changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.newLogger(cfg)
			defer logger.Sync()

			opts := viewerOptions(cfg.Viewer)
			if url := strings.TrimSpace(serverURL); url != "" {
				opts.ServerURL = url
			}
			logger.Info("viewer starting",
				zap.String("server_url", opts.ServerURL),
				zap.String("base_asset", opts.BaseAsset),
				zap.String("manifest", cfg.Viewer.ManifestPath),
			)

			session := viewer.NewSession(
				opts,
				viewer.NewManifestLoader(cfg.Viewer.ManifestPath),
				viewer.NewLogStage(logger),
				viewer.WriterCaption{W: cmd.OutOrStdout()},
				logger,
			)

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return session.Run(runCtx)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "WebSocket URL of the broadcast server")
	return cmd
}

func viewerOptions(cfg appconfig.ViewerConfig) viewer.Options {
	triggers := make(map[string]string, len(cfg.Triggers))
	for _, t := range cfg.Triggers {
		if t.Clip == "" || t.Asset == "" {
			continue
		}
		triggers[t.Clip] = t.Asset
	}
	return viewer.Options{
		ServerURL:    cfg.ServerURL,
		BaseAsset:    cfg.BaseAsset,
		Triggers:     triggers,
		FrameRate:    cfg.FrameRate,
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
	}
}
