// Package broadcast fans commands out to every connected viewer channel.
//
// Each viewer owns a bounded FIFO queue drained by its own writer goroutine.
// Broadcast enqueues under a single lock and never waits on a sink, so a slow
// viewer cannot stall the caller, and two broadcasts issued in sequence reach
// every viewer in that sequence.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saker-ai/lsf-avatar/internal/protocol"
)

var (
	// ErrQueueFull marks a viewer dropped because it could not keep up.
	ErrQueueFull = errors.New("viewer queue full")
	// ErrHubClosed is returned by Register after Close.
	ErrHubClosed = errors.New("broadcast hub closed")
)

// Sink is the send side of a viewer channel.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// Options configures a Hub.
type Options struct {
	QueueSize        int
	ConnectedMessage string
}

// Viewer is a registered channel.
type Viewer struct {
	id    string
	sink  Sink
	queue chan []byte
	done  chan struct{}
}

// ID returns the viewer's identifier.
func (v *Viewer) ID() string { return v.id }

// Done is closed once the viewer's writer has stopped and its sink is closed.
func (v *Viewer) Done() <-chan struct{} { return v.done }

// Hub holds the active viewer set.
type Hub struct {
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	viewers map[string]*Viewer
	closed  bool
	writers sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Hub{
		logger:  logger,
		opts:    opts,
		viewers: make(map[string]*Viewer),
	}
}

// Register adds sink to the active set. The viewer's first frame is a Connected
// command addressed to it alone.
func (h *Hub) Register(sink Sink) (*Viewer, error) {
	hello, err := protocol.Encode(protocol.Connected{Message: h.opts.ConnectedMessage})
	if err != nil {
		return nil, err
	}
	v := &Viewer{
		id:    uuid.NewString(),
		sink:  sink,
		queue: make(chan []byte, h.opts.QueueSize),
		done:  make(chan struct{}),
	}
	v.queue <- hello

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.viewers[v.id] = v
	count := len(h.viewers)
	h.writers.Add(1)
	h.mu.Unlock()

	go h.pump(v)

	h.logger.Info("viewer registered", zap.String("viewer_id", v.id), zap.Int("viewers", count))
	return v, nil
}

// Unregister removes a viewer. Unknown or already removed ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	removed := h.removeLocked(id)
	count := len(h.viewers)
	h.mu.Unlock()
	if removed {
		h.logger.Info("viewer unregistered", zap.String("viewer_id", id), zap.Int("viewers", count))
	}
}

func (h *Hub) removeLocked(id string) bool {
	v, ok := h.viewers[id]
	if !ok {
		return false
	}
	delete(h.viewers, id)
	close(v.queue)
	return true
}

// Broadcast sends cmd to every registered viewer and reports the per-viewer outcome.
func (h *Hub) Broadcast(cmd protocol.Command) (Report, error) {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return Report{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	report := Report{Type: cmd.CommandType(), Outcomes: make([]Outcome, 0, len(h.viewers))}
	for id, v := range h.viewers {
		select {
		case v.queue <- data:
			report.Outcomes = append(report.Outcomes, Outcome{ViewerID: id, Status: StatusQueued})
		default:
			h.removeLocked(id)
			report.Outcomes = append(report.Outcomes, Outcome{ViewerID: id, Status: StatusDropped, Err: ErrQueueFull})
			h.logger.Warn("broadcast drop", zap.String("viewer_id", id), zap.String("type", report.Type), zap.Error(ErrQueueFull))
		}
	}
	return report, nil
}

// Publish broadcasts cmd and logs the outcome. Per-viewer failures are not returned.
func (h *Hub) Publish(_ context.Context, cmd protocol.Command) error {
	report, err := h.Broadcast(cmd)
	if err != nil {
		return err
	}
	h.logger.Debug("broadcast",
		zap.String("type", report.Type),
		zap.Int("queued", report.Queued()),
		zap.Int("dropped", report.Dropped()),
	)
	return nil
}

// Len returns the number of registered viewers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Close unregisters every viewer and waits for their writers to stop.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for id := range h.viewers {
		h.removeLocked(id)
	}
	h.mu.Unlock()
	h.writers.Wait()
}

func (h *Hub) pump(v *Viewer) {
	defer h.writers.Done()
	defer close(v.done)

	failed := false
	for data := range v.queue {
		if failed {
			continue
		}
		if err := v.sink.Send(data); err != nil {
			failed = true
			h.logger.Warn("viewer send failed", zap.String("viewer_id", v.id), zap.Error(err))
			h.Unregister(v.id)
		}
	}
	if err := v.sink.Close(); err != nil {
		h.logger.Debug("viewer sink close", zap.String("viewer_id", v.id), zap.Error(err))
	}
}
