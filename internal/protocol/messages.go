// Package protocol defines the chat endpoint payloads and the JSON commands
// pushed to viewer channels.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command type tags on the wire.
const (
	TypeConnected = "connected"
	TypePlay      = "play"
	TypeCaption   = "caption"
)

// ErrUnknownType is returned by Decode for a frame with an unrecognized type tag.
var ErrUnknownType = errors.New("unknown command type")

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatReply is returned directly to the requester.
type ChatReply struct {
	Reply   string `json:"reply"`
	Clip    string `json:"clip"`
	Caption string `json:"caption"`
}

// Command is a server to viewer message.
type Command interface {
	CommandType() string
}

// Play asks viewers to run an animation clip.
type Play struct {
	Clip  string  `json:"clip"`
	Speed float64 `json:"speed"`
	Loop  bool    `json:"loop"`
}

// Caption replaces the viewer's caption text.
type Caption struct {
	Text string `json:"text"`
}

// Connected greets a newly registered viewer.
type Connected struct {
	Message string `json:"message"`
}

func (Play) CommandType() string      { return TypePlay }
func (Caption) CommandType() string   { return TypeCaption }
func (Connected) CommandType() string { return TypeConnected }

type playFrame struct {
	Type string `json:"type"`
	Play
}

type captionFrame struct {
	Type string `json:"type"`
	Caption
}

type connectedFrame struct {
	Type string `json:"type"`
	Connected
}

// Encode serializes cmd as a tagged JSON frame.
func Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case Play:
		return json.Marshal(playFrame{Type: TypePlay, Play: c})
	case Caption:
		return json.Marshal(captionFrame{Type: TypeCaption, Caption: c})
	case Connected:
		return json.Marshal(connectedFrame{Type: TypeConnected, Connected: c})
	case nil:
		return nil, errors.New("encode nil command")
	default:
		return nil, fmt.Errorf("encode %T: %w", cmd, ErrUnknownType)
	}
}

// Decode parses a tagged JSON frame.
func Decode(data []byte) (Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	switch head.Type {
	case TypePlay:
		var f playFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode play: %w", err)
		}
		return f.Play, nil
	case TypeCaption:
		var f captionFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode caption: %w", err)
		}
		return f.Caption, nil
	case TypeConnected:
		var f connectedFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode connected: %w", err)
		}
		return f.Connected, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}
