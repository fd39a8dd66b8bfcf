package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/akarol/lore-digest/internal/config"
)

// retryDelay is how long to wait before the single retry of a failed call.
const retryDelay = 10 * time.Second

// Gateway mediates every inference call. Before any call it health-checks
// the engine (recheck once after a wait if unhealthy), applies the phase's
// token budget and an absolute timeout, retries a transient failure once
// after a fresh health check, and cools down after every success so
// back-to-back requests do not saturate the shared engine.
type Gateway struct {
	completer Completer
	cfg       config.EngineConfig

	// sleep is replaced in tests.
	sleep func(time.Duration)
}

// NewGateway creates a Gateway over the given provider.
func NewGateway(completer Completer, cfg config.EngineConfig) *Gateway {
	return &Gateway{
		completer: completer,
		cfg:       cfg,
		sleep:     time.Sleep,
	}
}

// Model returns the configured inference model identifier.
func (g *Gateway) Model() string { return g.cfg.Model }

// Analyze performs one short, cheap per-thread analysis call.
func (g *Gateway) Analyze(ctx context.Context, systemPrompt, userPrompt string) (*CompletionResponse, error) {
	return g.call(ctx, "analysis", systemPrompt, userPrompt, g.cfg.AnalyzeBudget, 0.3)
}

// Synthesize performs the long, expensive synthesis call.
func (g *Gateway) Synthesize(ctx context.Context, systemPrompt, userPrompt string) (*CompletionResponse, error) {
	return g.call(ctx, "synthesis", systemPrompt, userPrompt, g.cfg.SynthesizeBudget, 0.4)
}

func (g *Gateway) call(ctx context.Context, phase, systemPrompt, userPrompt string, budget int, temperature float64) (*CompletionResponse, error) {
	if err := g.ensureHealthy(ctx); err != nil {
		return nil, err
	}

	req := &CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    budget,
		Temperature:  temperature,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			log.Printf("engine: %s call failed (%v), retrying after %s", phase, lastErr, retryDelay)
			g.sleep(retryDelay)
			if err := g.ensureHealthy(ctx); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		resp, err := g.completer.Complete(callCtx, req)
		cancel()
		if err == nil {
			log.Printf("engine: %s call ok in %s (%d tokens)", phase, resp.Elapsed.Round(time.Second), resp.TokensUsed)
			g.sleep(g.cfg.Cooldown)
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%s call failed after retry: %w", phase, lastErr)
}

// ensureHealthy checks the engine once; if unhealthy it waits and rechecks
// once. A second failure means the call is abandoned without being
// attempted.
func (g *Gateway) ensureHealthy(ctx context.Context) error {
	err := g.completer.CheckHealth(ctx, g.cfg.Model)
	if err == nil {
		return nil
	}
	log.Printf("engine: health check failed (%v), rechecking in %s", err, g.cfg.HealthRetryWait)
	g.sleep(g.cfg.HealthRetryWait)
	if err := g.completer.CheckHealth(ctx, g.cfg.Model); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return nil
}
