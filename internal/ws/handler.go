package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/lsf-avatar/internal/broadcast"
)

const maxClientFrameBytes = 64 * 1024

// Registry is the subset of the broadcast hub the handler needs.
type Registry interface {
	Register(sink broadcast.Sink) (*broadcast.Viewer, error)
	Unregister(id string)
}

// Handler upgrades viewer connections and registers them for broadcasts.
type Handler struct {
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	registry     Registry
	writeTimeout time.Duration
}

// NewHandler creates a Handler. writeTimeout bounds each frame write.
func NewHandler(logger *zap.Logger, registry Registry, writeTimeout time.Duration) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Handler{
		logger:       logger,
		registry:     registry,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle serves one viewer until its connection closes.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxClientFrameBytes)

	sink := &connSink{conn: conn, writeTimeout: h.writeTimeout}
	viewer, err := h.registry.Register(sink)
	if err != nil {
		h.logger.Warn("viewer registration failed", zap.Error(err))
		return
	}
	defer h.registry.Unregister(viewer.ID())

	h.logger.Info("ws session opened",
		zap.String("viewer_id", viewer.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws closed unexpectedly", zap.String("viewer_id", viewer.ID()), zap.Error(err))
			} else {
				h.logger.Debug("ws connection closed", zap.String("viewer_id", viewer.ID()), zap.Error(err))
			}
			break
		}
		h.logger.Info("ws client message",
			zap.String("viewer_id", viewer.ID()),
			zap.ByteString("payload", data),
		)
	}

	h.logger.Info("ws session closed", zap.String("viewer_id", viewer.ID()))
}

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// connSink adapts a websocket connection to broadcast.Sink.
type connSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	sendMu       sync.Mutex
}

func (s *connSink) Send(data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *connSink) Close() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
