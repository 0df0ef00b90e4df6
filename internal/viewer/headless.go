package viewer

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// LogStage is a Stage without a renderer; it logs what would be displayed.
type LogStage struct {
	logger *zap.Logger
}

// NewLogStage creates a LogStage.
func NewLogStage(logger *zap.Logger) *LogStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogStage{logger: logger}
}

func (s *LogStage) Show(asset *Asset) {
	s.logger.Info("stage show", zap.String("asset", asset.Name))
}

func (s *LogStage) PlayOnce(clip Clip, speed float64) {
	s.logger.Info("stage play once",
		zap.String("animation", clip.Name),
		zap.Duration("duration", clip.Duration),
		zap.Float64("speed", speed),
	)
}

func (s *LogStage) Render(time.Duration) {}

// WriterCaption prints each caption on its own line.
type WriterCaption struct {
	W io.Writer
}

func (c WriterCaption) SetCaption(text string) {
	fmt.Fprintln(c.W, text)
}
