package viewer

import (
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/lsf-avatar/internal/protocol"
)

// State is the animation state of one viewer.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
)

// Sequencer swaps between the base asset and a transient one while a clip plays.
// It is not safe for concurrent use; the session loop owns it.
type Sequencer struct {
	stage    Stage
	clock    Clock
	logger   *zap.Logger
	base     string
	triggers map[string]string

	assets  map[string]*Asset
	state   State
	current *Asset
	revert  Timer
}

// NewSequencer creates a sequencer in the idle state. triggers maps play clip ids to
// transient asset names.
func NewSequencer(stage Stage, clock Clock, base string, triggers map[string]string, logger *zap.Logger) *Sequencer {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		stage:    stage,
		clock:    clock,
		logger:   logger,
		base:     base,
		triggers: triggers,
		assets:   make(map[string]*Asset),
		state:    StateIdle,
	}
}

// State returns the current state.
func (s *Sequencer) State() State {
	return s.state
}

// AssetReady records a loaded asset. The base asset is shown as soon as it arrives.
func (s *Sequencer) AssetReady(name string, asset *Asset) {
	if asset == nil {
		return
	}
	s.assets[name] = asset
	s.logger.Info("asset loaded", zap.String("asset", name), zap.Int("clips", len(asset.Clips)))
	if name == s.base && s.state == StateIdle && s.current == nil {
		s.show(asset)
	}
}

// AssetFailed logs a load failure. Commands needing the asset stay no-ops.
func (s *Sequencer) AssetFailed(name string, err error) {
	s.logger.Error("asset load failed", zap.String("asset", name), zap.Error(err))
}

// Play starts the transient sequence for a recognized clip. A play during playback
// restarts the sequence with a single fresh revert timer. It reports whether the
// command was applied.
func (s *Sequencer) Play(cmd protocol.Play) bool {
	assetName, ok := s.triggers[cmd.Clip]
	if !ok {
		s.logger.Warn("play ignored: unrecognized clip", zap.String("clip", cmd.Clip))
		return false
	}
	base, transient := s.assets[s.base], s.assets[assetName]
	if base == nil || transient == nil {
		s.logger.Warn("play ignored: assets not loaded",
			zap.String("clip", cmd.Clip),
			zap.Bool("base_loaded", base != nil),
			zap.Bool("transient_loaded", transient != nil),
		)
		return false
	}
	if len(transient.Clips) == 0 {
		s.logger.Warn("play ignored: asset has no animation", zap.String("asset", assetName))
		return false
	}

	speed := cmd.Speed
	if speed <= 0 {
		speed = 1
	}
	clip := transient.Clips[0]

	s.stopRevert()
	s.show(transient)
	s.stage.PlayOnce(clip, speed)
	s.revert = s.clock.NewTimer(scaleDuration(clip.Duration, speed))
	s.state = StatePlaying

	s.logger.Debug("play started",
		zap.String("clip", cmd.Clip),
		zap.String("animation", clip.Name),
		zap.Duration("duration", clip.Duration),
		zap.Float64("speed", speed),
	)
	return true
}

// Expired fires when the active clip has finished. It is nil while idle.
func (s *Sequencer) Expired() <-chan time.Time {
	if s.revert == nil {
		return nil
	}
	return s.revert.C()
}

// Revert returns to the base asset after the revert timer fired.
func (s *Sequencer) Revert() {
	if s.state != StatePlaying {
		return
	}
	s.revert = nil
	base := s.assets[s.base]
	if base == nil {
		s.logger.Warn("revert skipped: base asset missing", zap.String("asset", s.base))
		return
	}
	s.show(base)
	s.state = StateIdle
}

// Stop cancels any pending revert.
func (s *Sequencer) Stop() {
	s.stopRevert()
}

func (s *Sequencer) stopRevert() {
	if s.revert != nil {
		s.revert.Stop()
		s.revert = nil
	}
}

func (s *Sequencer) show(asset *Asset) {
	s.current = asset
	s.stage.Show(asset)
}

func scaleDuration(d time.Duration, speed float64) time.Duration {
	if speed == 1 {
		return d
	}
	return time.Duration(float64(d) / speed)
}
