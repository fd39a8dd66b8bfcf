// Package pipeline orchestrates a digest run end to end: admission,
// ingestion, clustering, analysis, synthesis, archival and delivery.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/akarol/lore-digest/internal/analysis"
	"github.com/akarol/lore-digest/internal/checkpoint"
	"github.com/akarol/lore-digest/internal/cluster"
	"github.com/akarol/lore-digest/internal/config"
	"github.com/akarol/lore-digest/internal/engine"
	"github.com/akarol/lore-digest/internal/feed"
	"github.com/akarol/lore-digest/internal/report"
)

// Fetcher is the slice of the feed fetcher the pipeline needs.
type Fetcher interface {
	Fetch(ctx context.Context, f config.Feed, start, end time.Time) ([]feed.Message, error)
}

// Sender delivers bulletin text to the configured recipient.
type Sender interface {
	Send(ctx context.Context, message string) error
	SendChunks(ctx context.Context, text string) error
}

// Pipeline runs the digest for every configured feed, one feed at a time.
// Inference phases are strictly sequential; the engine is a single shared
// GPU and parallel calls only thrash it.
type Pipeline struct {
	cfg         *config.Config
	store       *checkpoint.Store
	fetcher     Fetcher
	gateway     analysis.Gateway
	analyzer    *analysis.Analyzer
	synthesizer *analysis.Synthesizer
	sender      Sender

	// ollama is set only for the ollama provider; it drives model
	// residency before the first inference call.
	ollama *engine.OllamaClient

	now func() time.Time
}

// New assembles a Pipeline from its parts. ollama may be nil.
func New(cfg *config.Config, store *checkpoint.Store, fetcher Fetcher, gateway analysis.Gateway, sender Sender, ollama *engine.OllamaClient) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		store:       store,
		fetcher:     fetcher,
		gateway:     gateway,
		analyzer:    analysis.NewAnalyzer(gateway, store),
		synthesizer: analysis.NewSynthesizer(gateway, store),
		sender:      sender,
		ollama:      ollama,
		now:         time.Now,
	}
}

// Run executes one digest run under the advisory lock. The checkpoint sweep
// runs whether or not the run succeeds, so stale state never outlives the
// retention window just because runs keep failing.
func (p *Pipeline) Run(ctx context.Context) error {
	lock, err := engine.Acquire(p.cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	defer func() {
		swept, err := p.store.Sweep(p.cfg.Retention)
		if err != nil {
			log.Printf("pipeline: checkpoint sweep failed: %v", err)
		} else if swept > 0 {
			log.Printf("pipeline: swept %d expired checkpoints", swept)
		}
	}()

	if p.ollama != nil {
		if err := engine.EnsureResident(ctx, p.ollama, p.cfg.Engine.Model); err != nil {
			log.Printf("pipeline: model residency setup failed: %v", err)
		}
	}

	var firstErr error
	for _, f := range p.cfg.Feeds {
		if err := p.runFeed(ctx, f); err != nil {
			log.Printf("pipeline: feed %s failed: %v", f.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Pipeline) runFeed(ctx context.Context, f config.Feed) error {
	windowEnd := p.now()
	windowStart := windowEnd.Add(-p.cfg.Lookback)
	timings := make(map[string]float64)

	log.Printf("pipeline: digesting %s (%s window)", f.ID, p.cfg.Lookback)

	fetchStart := p.now()
	msgs, err := p.fetcher.Fetch(ctx, f, windowStart, windowEnd)
	timings["fetch"] = p.now().Sub(fetchStart).Seconds()
	if err != nil {
		// Ingestion failure is fatal to the feed: notify, never emit a
		// partial bulletin.
		p.notifyFailure(ctx, f, err)
		return err
	}

	if len(msgs) == 0 {
		log.Printf("pipeline: %s had no messages in window, sending quiet-period notice", f.ID)
		p.deliver(ctx, report.QuietPeriod(f.Name, windowStart, windowEnd))
		return nil
	}

	clusterStart := p.now()
	threads := cluster.Build(msgs)
	cluster.Score(threads, p.cfg.Scoring)
	analyzed, residual := cluster.Partition(threads, p.cfg.Scoring.MinScore, p.cfg.Scoring.MaxAnalyzed)
	timings["cluster"] = p.now().Sub(clusterStart).Seconds()

	p.checkpointClustering(f.ID, windowEnd, threads)
	log.Printf("pipeline: %s: %d messages, %d threads, %d selected for analysis",
		f.ID, len(msgs), len(threads), len(analyzed))

	analyzeStart := p.now()
	analyses := p.analyzer.AnalyzeThreads(ctx, f.ID, analyzed)
	timings["analyze"] = p.now().Sub(analyzeStart).Seconds()

	synthStart := p.now()
	body, synthesized := p.synthesizer.Compose(ctx, f.ID, analyses, residual)
	timings["synthesize"] = p.now().Sub(synthStart).Seconds()

	failed := 0
	for _, a := range analyses {
		if a.Failed {
			failed++
		}
	}

	bulletin := &report.Bulletin{
		FeedID:          f.ID,
		FeedName:        f.Name,
		WindowStart:     windowStart,
		WindowEnd:       windowEnd,
		Model:           p.gateway.Model(),
		TotalUnits:      len(msgs),
		TotalThreads:    len(threads),
		AnalyzedThreads: len(analyses),
		FailedThreads:   failed,
		Body:            body,
		Residual:        residual,
		Timings:         timings,
		Fallback:        !synthesized,
	}

	// Archive before delivery: a dead Signal daemon must never lose a run.
	if _, err := bulletin.Persist(p.store, p.cfg.OutputDir); err != nil {
		return fmt.Errorf("persisting bulletin for %s: %w", f.ID, err)
	}

	p.deliver(ctx, bulletin.Render())
	return nil
}

// checkpointClustering records the triage outcome. Write-once like every
// checkpoint; a rerun inside the same window keeps the first clustering.
func (p *Pipeline) checkpointClustering(feedID string, windowEnd time.Time, threads []*cluster.Thread) {
	summary := make(map[string]float64, len(threads))
	for _, t := range threads {
		summary[t.Key] = t.Score
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		log.Printf("pipeline: encoding clustering checkpoint: %v", err)
		return
	}
	cp := &checkpoint.Checkpoint{
		Key:     analysis.CheckpointKey("clustering", feedID, windowEnd.Format("2006-01-02")),
		Stage:   "clustering",
		Payload: string(payload),
	}
	if err := p.store.Put(cp); err != nil {
		log.Printf("pipeline: writing clustering checkpoint: %v", err)
	}
}

// deliver sends text over Signal. Delivery failure is logged, not returned:
// the bulletin is already archived and the run has succeeded.
func (p *Pipeline) deliver(ctx context.Context, text string) {
	if p.sender == nil {
		log.Printf("pipeline: no sender configured, skipping delivery")
		return
	}
	if err := p.sender.SendChunks(ctx, text); err != nil {
		log.Printf("pipeline: delivery failed: %v", err)
	}
}

// notifyFailure sends a short ingestion-failure notice. Best effort.
func (p *Pipeline) notifyFailure(ctx context.Context, f config.Feed, cause error) {
	if p.sender == nil {
		return
	}
	var fe *feed.FetchError
	msg := fmt.Sprintf("lore-digest: %s run failed: %v", f.ID, cause)
	if errors.As(cause, &fe) {
		msg = fmt.Sprintf("lore-digest: could not fetch %s (%s): %v", fe.FeedID, fe.URL, fe.Err)
	}
	if err := p.sender.Send(ctx, msg); err != nil {
		log.Printf("pipeline: failure notification failed too: %v", err)
	}
}
