// Package chat resolves chat messages to intents and triggers viewer broadcasts.
package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saker-ai/lsf-avatar/internal/intent"
	"github.com/saker-ai/lsf-avatar/internal/protocol"
)

const (
	playSpeed       = 1.0
	maxRequestBytes = 64 * 1024
)

// Matcher resolves text to an intent record.
type Matcher interface {
	Match(text string) intent.Record
}

// Publisher delivers a command to the viewers.
type Publisher interface {
	Publish(ctx context.Context, cmd protocol.Command) error
}

// Endpoint handles chat turns.
type Endpoint struct {
	matcher   Matcher
	publisher Publisher
	logger    *zap.Logger
}

// NewEndpoint creates an Endpoint.
func NewEndpoint(matcher Matcher, publisher Publisher, logger *zap.Logger) *Endpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Endpoint{matcher: matcher, publisher: publisher, logger: logger}
}

// Handle resolves req, broadcasts Play then Caption, and returns the reply.
// Broadcast failures are logged and never change the reply.
func (e *Endpoint) Handle(ctx context.Context, req protocol.ChatRequest) protocol.ChatReply {
	rec := e.matcher.Match(req.Message)

	reply := protocol.ChatReply{
		Reply: rec.Reply,
		Clip:  rec.Clip,
	}
	if reply.Reply == "" {
		reply.Reply = intent.DefaultReply
	}
	if reply.Clip == "" {
		reply.Clip = intent.DefaultClip
	}
	// The caption mirrors the reply after defaulting, so viewers never get an empty caption.
	reply.Caption = reply.Reply

	e.logger.Info("chat intent resolved",
		zap.String("intent", rec.ID),
		zap.String("clip", reply.Clip),
		zap.Int("chars", len(req.Message)),
	)

	e.publish(ctx, protocol.Play{Clip: reply.Clip, Speed: playSpeed, Loop: false})
	e.publish(ctx, protocol.Caption{Text: reply.Caption})

	return reply
}

func (e *Endpoint) publish(ctx context.Context, cmd protocol.Command) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, cmd); err != nil {
		e.logger.Warn("broadcast failed", zap.String("type", cmd.CommandType()), zap.Error(err))
	}
}

// ServeChat is the gin handler for POST /chat. It always answers 200.
func (e *Endpoint) ServeChat(c *gin.Context) {
	req := readRequest(c.Request.Body, e.logger)
	c.JSON(http.StatusOK, e.Handle(c.Request.Context(), req))
}

// readRequest decodes a chat request, treating any malformed body as an empty message.
func readRequest(body io.Reader, logger *zap.Logger) protocol.ChatRequest {
	if body == nil {
		return protocol.ChatRequest{}
	}
	data, err := io.ReadAll(io.LimitReader(body, maxRequestBytes))
	if err != nil {
		logger.Warn("chat body read failed", zap.Error(err))
		return protocol.ChatRequest{}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		if len(data) > 0 {
			logger.Warn("malformed chat body; treating as empty message", zap.Error(err))
		}
		return protocol.ChatRequest{}
	}
	var message string
	if field, ok := raw["message"]; ok {
		if err := json.Unmarshal(field, &message); err != nil {
			logger.Warn("chat message is not a string; treating as empty", zap.Error(err))
			return protocol.ChatRequest{}
		}
	}
	return protocol.ChatRequest{Message: message}
}
