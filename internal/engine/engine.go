// Package engine talks to the long-lived rendering engine that turns a
// (user, composition) payload into a raw video.
package engine

import (
	"context"
	"encoding/json"
)

// Payload is the opaque input the engine renders: who the summary is for,
// which composition to render, and the data the composition animates.
type Payload struct {
	User        string          `json:"user"`
	Composition string          `json:"composition"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Engine is the black-box rendering operation. A single engine instance is
// expensive to start and safe for concurrent renders once warmed up.
type Engine interface {
	// Warmup forces full engine and bundle initialization so the first
	// real render does not pay the startup cost.
	Warmup(ctx context.Context) error

	// Render produces the raw video bytes for the payload.
	Render(ctx context.Context, p Payload) ([]byte, error)

	// Close releases the underlying engine instance.
	Close() error
}
