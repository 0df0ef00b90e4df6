// Package viewer is the client side of the broadcast protocol: it follows a
// server's command stream, keeps a caption up to date and sequences avatar
// animations.
package viewer

import (
	"context"
	"time"
)

// Clip is one animation carried by an asset.
type Clip struct {
	Name     string
	Duration time.Duration
}

// Asset is a loaded animated model.
type Asset struct {
	Name  string
	Clips []Clip
}

// AssetLoader fetches an asset by name.
type AssetLoader interface {
	Load(ctx context.Context, name string) (*Asset, error)
}

// Stage displays one asset at a time.
type Stage interface {
	// Show replaces the displayed asset.
	Show(asset *Asset)
	// PlayOnce starts clip from its first frame without looping and holds the final pose.
	PlayOnce(clip Clip, speed float64)
	// Render advances the scene by delta.
	Render(delta time.Duration)
}

// CaptionDisplay is the single text element under the avatar.
type CaptionDisplay interface {
	SetCaption(text string)
}
