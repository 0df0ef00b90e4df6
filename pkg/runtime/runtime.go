// Package runtime assembles the avatar server from its configuration.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saker-ai/lsf-avatar/internal/broadcast"
	"github.com/saker-ai/lsf-avatar/internal/chat"
	appconfig "github.com/saker-ai/lsf-avatar/internal/config"
	apphttp "github.com/saker-ai/lsf-avatar/internal/http"
	"github.com/saker-ai/lsf-avatar/internal/intent"
	applogger "github.com/saker-ai/lsf-avatar/internal/logger"
	"github.com/saker-ai/lsf-avatar/internal/relay"
	"github.com/saker-ai/lsf-avatar/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// Server owns the HTTP listener, the viewer hub and the optional relay.
type Server struct {
	cfg     appconfig.Config
	logger  *zap.Logger
	server  *http.Server
	hub     *broadcast.Hub
	catalog *intent.Catalog
	relay   *relay.Redis
}

// New loads configPath and builds a server with its own logger.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load avatar config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("avatar logger configured",
		zap.String("level", cfg.Log.Level),
		zap.String("format", cfg.Log.Format),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
	)
	logger.Info("avatar config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
	)
	return NewWithConfig(cfg, logger)
}

// NewWithConfig builds a server from an already loaded configuration.
func NewWithConfig(cfg appconfig.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Load logs the failure and serves the fallback alone.
	catalog, _ := intent.Load(cfg.IntentsPath, logger)

	hub := broadcast.NewHub(broadcast.Options{
		QueueSize:        cfg.Broadcast.QueueSize,
		ConnectedMessage: cfg.Broadcast.ConnectedMessage,
	}, logger)

	var publisher chat.Publisher = hub
	var rel *relay.Redis
	if cfg.Redis.URL != "" {
		var err error
		rel, err = relay.NewRedis(cfg.Redis.URL, cfg.Redis.Channel, hub, logger)
		if err != nil {
			hub.Close()
			return nil, err
		}
		publisher = rel
		logger.Info("redis relay enabled", zap.String("channel", cfg.Redis.Channel))
	}

	endpoint := chat.NewEndpoint(catalog, publisher, logger)
	viewers := ws.NewHandler(logger, hub, cfg.Broadcast.WriteTimeout)
	router := apphttp.NewRouter(cfg, apphttp.Deps{
		Chat:    endpoint.ServeChat,
		Viewers: viewers,
		Stats: func() (int, int) {
			return hub.Len(), catalog.Len()
		},
	}, logger)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		server:  &http.Server{Addr: cfg.HTTPAddr, Handler: router},
		hub:     hub,
		catalog: catalog,
		relay:   rel,
	}, nil
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Hub returns the viewer hub.
func (s *Server) Hub() *broadcast.Hub {
	return s.hub
}

// Logger returns the server logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Run listens on the configured address until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.hub.Close()
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if s.relay != nil {
		// Run retries Redis outages itself, so it never stops the HTTP server.
		g.Go(func() error {
			return s.relay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) serve(ln net.Listener) error {
	if s.cfg.TLSEnabled() {
		s.logger.Info("starting https server", zap.String("addr", ln.Addr().String()))
		return s.server.ServeTLS(ln, s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
	}
	if s.cfg.TLSCertPath != "" || s.cfg.TLSKeyPath != "" {
		s.logger.Warn("tls certificate files missing; serving plain http",
			zap.String("cert", s.cfg.TLSCertPath),
			zap.String("key", s.cfg.TLSKeyPath),
		)
	}
	s.logger.Info("starting http server", zap.String("addr", ln.Addr().String()))
	return s.server.Serve(ln)
}

// shutdown stops accepting requests, closes every viewer channel and the relay client.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if err != nil {
		s.logger.Error("http server shutdown failed", zap.Error(err))
	}
	s.hub.Close()
	if s.relay != nil {
		if cerr := s.relay.Close(); cerr != nil {
			s.logger.Debug("redis relay close", zap.Error(cerr))
		}
	}
	s.logger.Info("avatar server stopped")
	return err
}
