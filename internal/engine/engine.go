// Package engine is the only component that talks to the shared local
// inference engine. It owns health checking, retry/backoff, per-phase token
// budgets, and system-level admission: two heavy jobs must never hold the
// engine at once, and at most one heavy model is resident.
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrEngineUnavailable is returned when the health check fails twice; the
// call that needed the engine is abandoned without being attempted.
var ErrEngineUnavailable = errors.New("inference engine unavailable")

// CompletionRequest represents one prompt pair sent to the engine.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// CompletionResponse represents the engine's generated output.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensUsed int
	Elapsed    time.Duration
}

// Completer is the interface for inference providers.
type Completer interface {
	// Complete sends a prompt pair to the engine and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CheckHealth reports whether the engine is reachable and advertises
	// the given model.
	CheckHealth(ctx context.Context, model string) error
}

// ResidentModel describes one model currently loaded by the engine.
type ResidentModel struct {
	Name      string
	SizeBytes int64
	ExpiresAt time.Time
}
