package viewer

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saker-ai/lsf-avatar/internal/protocol"
)

// Options configures a Session.
type Options struct {
	ServerURL    string
	BaseAsset    string
	Triggers     map[string]string
	FrameRate    int
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Session is one connected viewer.
type Session struct {
	opts    Options
	loader  AssetLoader
	stage   Stage
	caption CaptionDisplay
	clock   Clock
	logger  *zap.Logger
	dialer  *websocket.Dialer
}

type loadResult struct {
	name  string
	asset *Asset
	err   error
}

// NewSession creates a viewer session.
func NewSession(opts Options, loader AssetLoader, stage Stage, caption CaptionDisplay, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 30
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Session{
		opts:    opts,
		loader:  loader,
		stage:   stage,
		caption: caption,
		clock:   realClock{},
		logger:  logger,
		dialer:  websocket.DefaultDialer,
	}
}

// Run loads assets, follows the server's command stream and renders until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	commands := make(chan protocol.Command, 64)
	loads := make(chan loadResult, len(s.assetNames()))

	s.startLoads(ctx, g, loads)
	g.Go(func() error {
		return s.connectLoop(ctx, commands)
	})
	g.Go(func() error {
		return s.loop(ctx, commands, loads)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) assetNames() []string {
	names := []string{s.opts.BaseAsset}
	seen := map[string]struct{}{s.opts.BaseAsset: {}}
	for _, asset := range s.opts.Triggers {
		if _, ok := seen[asset]; ok {
			continue
		}
		seen[asset] = struct{}{}
		names = append(names, asset)
	}
	return names
}

// startLoads fetches every asset concurrently; completion order is not guaranteed.
func (s *Session) startLoads(ctx context.Context, g *errgroup.Group, loads chan<- loadResult) {
	for _, name := range s.assetNames() {
		name := name
		g.Go(func() error {
			asset, err := s.loader.Load(ctx, name)
			select {
			case loads <- loadResult{name: name, asset: asset, err: err}:
			case <-ctx.Done():
			}
			return nil
		})
	}
}

func (s *Session) loop(ctx context.Context, commands <-chan protocol.Command, loads <-chan loadResult) error {
	seq := NewSequencer(s.stage, s.clock, s.opts.BaseAsset, s.opts.Triggers, s.logger)
	defer seq.Stop()

	frame := time.NewTicker(time.Second / time.Duration(s.opts.FrameRate))
	defer frame.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-loads:
			if res.err != nil {
				seq.AssetFailed(res.name, res.err)
				continue
			}
			seq.AssetReady(res.name, res.asset)
		case cmd := <-commands:
			s.apply(seq, cmd)
		case <-seq.Expired():
			seq.Revert()
		case now := <-frame.C:
			s.stage.Render(now.Sub(last))
			last = now
		}
	}
}

func (s *Session) apply(seq *Sequencer, cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.Connected:
		s.logger.Info("viewer connected", zap.String("message", c.Message))
	case protocol.Caption:
		s.caption.SetCaption(c.Text)
	case protocol.Play:
		seq.Play(c)
	}
}

func (s *Session) connectLoop(ctx context.Context, commands chan<- protocol.Command) error {
	delay := s.opts.ReconnectMin
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Info("viewer dialing", zap.String("server_url", s.opts.ServerURL))
		conn, _, err := s.dialer.DialContext(ctx, s.opts.ServerURL, nil)
		if err != nil {
			s.logger.Warn("viewer dial failed", zap.Error(err), zap.Duration("retry_in", delay))
			if !sleepContext(ctx, delay) {
				return nil
			}
			delay = nextBackoff(delay, s.opts.ReconnectMax)
			continue
		}
		delay = s.opts.ReconnectMin

		err = s.readLoop(ctx, conn, commands)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("viewer connection lost", zap.Error(err), zap.Duration("retry_in", delay))
		if !sleepContext(ctx, delay) {
			return nil
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, commands chan<- protocol.Command) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		cmd, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("viewer frame ignored", zap.Error(err))
			continue
		}
		select {
		case commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func nextBackoff(current time.Duration, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
