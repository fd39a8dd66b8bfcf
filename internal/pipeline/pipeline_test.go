package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akarol/lore-digest/internal/analysis"
	"github.com/akarol/lore-digest/internal/checkpoint"
	"github.com/akarol/lore-digest/internal/config"
	"github.com/akarol/lore-digest/internal/engine"
	"github.com/akarol/lore-digest/internal/feed"
)

type fakeFetcher struct {
	msgs []feed.Message
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, fd config.Feed, start, end time.Time) ([]feed.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}

type fakeSender struct {
	sent       []string
	chunksSent []string
	sendErr    error
}

func (s *fakeSender) Send(ctx context.Context, message string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, message)
	return nil
}

func (s *fakeSender) SendChunks(ctx context.Context, text string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.chunksSent = append(s.chunksSent, text)
	return nil
}

type fakeGateway struct {
	analyzeErr    error
	synthesizeErr error

	analyzeCalls    atomic.Int64
	synthesizeCalls atomic.Int64
}

func (g *fakeGateway) Analyze(ctx context.Context, systemPrompt, userPrompt string) (*engine.CompletionResponse, error) {
	g.analyzeCalls.Add(1)
	if g.analyzeErr != nil {
		return nil, g.analyzeErr
	}
	return &engine.CompletionResponse{
		Content: `{"summary": "thread analyzed", "status": "under-review"}`,
		Model:   "test-model",
	}, nil
}

func (g *fakeGateway) Synthesize(ctx context.Context, systemPrompt, userPrompt string) (*engine.CompletionResponse, error) {
	g.synthesizeCalls.Add(1)
	if g.synthesizeErr != nil {
		return nil, g.synthesizeErr
	}
	return &engine.CompletionResponse{Content: "the synthesized daily bulletin", Model: "test-model"}, nil
}

func (g *fakeGateway) Model() string { return "test-model" }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.OutputDir = filepath.Join(dir, "bulletins")
	cfg.LockFile = filepath.Join(dir, "test.lock")
	cfg.Lookback = 24 * time.Hour
	return cfg
}

func testStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	s, err := checkpoint.New(":memory:")
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// windowMessages builds a realistic window: a handful of busy keyword-heavy
// threads plus quiet low-relevance ones.
func windowMessages() []feed.Message {
	now := time.Now().Add(-time.Hour)
	var msgs []feed.Message

	add := func(subject, author, body string, reply bool) {
		msgs = append(msgs, feed.Message{
			FeedID: "linux-media", Author: author, Subject: subject,
			Body: body, Date: now, IsReply: reply,
		})
	}

	// Five high-signal threads with replies.
	for i := 0; i < 5; i++ {
		subject := fmt.Sprintf("[PATCH 0/3] media: v4l2 series %d", i)
		add(subject, fmt.Sprintf("author%d", i), "v4l2 camera subdev work", false)
		for r := 0; r < 4; r++ {
			add("Re: "+subject, fmt.Sprintf("reviewer%d", r), "camera review comments", true)
		}
	}
	// Seven quiet threads without strong keywords.
	for i := 0; i < 7; i++ {
		subject := fmt.Sprintf("question about build setup %d", i)
		add(subject, "asker", "how do I configure this", false)
		add("Re: "+subject, "helper", "like so", true)
	}
	// One straggler reply to the first series: 40 messages total.
	add("Re: [PATCH 0/3] media: v4l2 series 0", "late-reviewer", "one more camera nit", true)
	return msgs
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scoring.MaxAnalyzed = 5
	store := testStore(t)
	gw := &fakeGateway{}
	sender := &fakeSender{}

	p := New(cfg, store, &fakeFetcher{msgs: windowMessages()}, gw, sender, nil)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if gw.analyzeCalls.Load() != 5 {
		t.Errorf("analyze calls = %d, want 5 (MaxAnalyzed)", gw.analyzeCalls.Load())
	}
	if gw.synthesizeCalls.Load() != 1 {
		t.Errorf("synthesize calls = %d, want 1", gw.synthesizeCalls.Load())
	}

	rec, err := store.LatestBulletin("linux-media")
	if err != nil || rec == nil {
		t.Fatalf("LatestBulletin = (%+v, %v), want a record", rec, err)
	}
	if rec.TotalUnits != 40 {
		t.Errorf("TotalUnits = %d, want 40", rec.TotalUnits)
	}
	if rec.TotalThreads != 12 {
		t.Errorf("TotalThreads = %d, want 12", rec.TotalThreads)
	}
	if rec.AnalyzedThreads != 5 {
		t.Errorf("AnalyzedThreads = %d, want 5", rec.AnalyzedThreads)
	}
	if !strings.Contains(rec.Body, "the synthesized daily bulletin") {
		t.Errorf("bulletin body missing synthesis output:\n%s", rec.Body)
	}

	if len(sender.chunksSent) != 1 {
		t.Fatalf("delivered %d texts, want 1", len(sender.chunksSent))
	}
	if sender.chunksSent[0] != rec.Body {
		t.Error("delivered text should be the archived bulletin body")
	}

	// Archived to disk too.
	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil || len(entries) != 1 {
		t.Errorf("output dir = (%v, %v), want one archived file", entries, err)
	}

	// The lock must be released after the run.
	if _, err := os.Stat(cfg.LockFile); !os.IsNotExist(err) {
		t.Error("lock file should be removed after the run")
	}
}

func TestRunResumesWithoutReInference(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scoring.MaxAnalyzed = 5
	store := testStore(t)
	gw := &fakeGateway{}

	p := New(cfg, store, &fakeFetcher{msgs: windowMessages()}, gw, &fakeSender{}, nil)
	p.now = func() time.Time { return time.Date(2026, 8, 28, 18, 0, 0, 0, time.UTC) }

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	first := gw.analyzeCalls.Load()

	// Same window, same store: the rerun pays zero inference.
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if gw.analyzeCalls.Load() != first {
		t.Errorf("rerun raised analyze calls from %d to %d", first, gw.analyzeCalls.Load())
	}
	if gw.synthesizeCalls.Load() != 1 {
		t.Errorf("rerun raised synthesize calls to %d, want 1", gw.synthesizeCalls.Load())
	}
}

func TestRunSynthesisFailureFallsBack(t *testing.T) {
	cfg := testConfig(t)
	store := testStore(t)
	gw := &fakeGateway{synthesizeErr: fmt.Errorf("engine died mid-run")}
	sender := &fakeSender{}

	p := New(cfg, store, &fakeFetcher{msgs: windowMessages()}, gw, sender, nil)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run should survive a synthesis failure: %v", err)
	}

	rec, _ := store.LatestBulletin("linux-media")
	if rec == nil {
		t.Fatal("a fallback bulletin should still be archived")
	}
	// Every analyzed thread's subject survives into the fallback bulletin.
	for i := 0; i < 5; i++ {
		subject := fmt.Sprintf("[PATCH 0/3] media: v4l2 series %d", i)
		if !strings.Contains(rec.Body, subject) {
			t.Errorf("fallback bulletin missing %q", subject)
		}
	}
	if !strings.Contains(rec.Body, "fell back") {
		t.Error("bulletin should note the fallback rendering")
	}
}

func TestRunFetchFailureNotifiesWithoutBulletin(t *testing.T) {
	cfg := testConfig(t)
	store := testStore(t)
	sender := &fakeSender{}

	fetchErr := &feed.FetchError{FeedID: "linux-media", URL: "https://example.org", Err: fmt.Errorf("HTTP 502")}
	p := New(cfg, store, &fakeFetcher{err: fetchErr}, &fakeGateway{}, sender, nil)

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("Run should report the fetch failure")
	}

	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "could not fetch linux-media") {
		t.Errorf("failure notification = %v", sender.sent)
	}
	if len(sender.chunksSent) != 0 {
		t.Error("no bulletin may be delivered after a fetch failure")
	}
	if rec, _ := store.LatestBulletin("linux-media"); rec != nil {
		t.Error("no bulletin may be recorded after a fetch failure")
	}
}

func TestRunEmptyWindowSendsQuietNotice(t *testing.T) {
	cfg := testConfig(t)
	store := testStore(t)
	sender := &fakeSender{}
	gw := &fakeGateway{}

	p := New(cfg, store, &fakeFetcher{msgs: nil}, gw, sender, nil)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if gw.analyzeCalls.Load() != 0 || gw.synthesizeCalls.Load() != 0 {
		t.Error("an empty window must not reach the engine")
	}
	if len(sender.chunksSent) != 1 || !strings.Contains(sender.chunksSent[0], "Quiet period") {
		t.Errorf("quiet notice = %v", sender.chunksSent)
	}
	if rec, _ := store.LatestBulletin("linux-media"); rec != nil {
		t.Error("quiet periods should not be archived as bulletins")
	}
}

func TestRunRefusesWhenLockHeld(t *testing.T) {
	cfg := testConfig(t)
	store := testStore(t)

	lock, err := engine.Acquire(cfg.LockFile)
	if err != nil {
		t.Fatalf("pre-acquiring lock: %v", err)
	}
	defer lock.Release()

	gw := &fakeGateway{}
	sender := &fakeSender{}
	p := New(cfg, store, &fakeFetcher{msgs: windowMessages()}, gw, sender, nil)

	if err := p.Run(context.Background()); !errors.Is(err, engine.ErrAlreadyRunning) {
		t.Fatalf("Run = %v, want ErrAlreadyRunning", err)
	}
	if gw.analyzeCalls.Load() != 0 || len(sender.chunksSent) != 0 {
		t.Error("a contended run must produce no side effects")
	}
}

func TestRunDeliveryFailureDoesNotFailRun(t *testing.T) {
	cfg := testConfig(t)
	store := testStore(t)
	sender := &fakeSender{sendErr: fmt.Errorf("signal daemon down")}

	p := New(cfg, store, &fakeFetcher{msgs: windowMessages()}, &fakeGateway{}, sender, nil)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("delivery failure must not fail the run: %v", err)
	}

	// The bulletin is still archived and recoverable.
	if rec, _ := store.LatestBulletin("linux-media"); rec == nil {
		t.Error("bulletin should be archived despite delivery failure")
	}
}

func TestRunSweepsExpiredCheckpoints(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention = 14 * 24 * time.Hour
	store := testStore(t)

	// Seed a checkpoint and age it past retention.
	key := analysis.CheckpointKey("analysis", "linux-media", "stale-thread")
	if err := store.Put(&checkpoint.Checkpoint{Key: key, Stage: "analysis", Payload: "{}"}); err != nil {
		t.Fatalf("seeding checkpoint: %v", err)
	}
	if _, err := store.DB().Exec(`UPDATE checkpoints SET created_at = '2020-01-01 00:00:00'`); err != nil {
		t.Fatalf("backdating checkpoint: %v", err)
	}

	p := New(cfg, store, &fakeFetcher{msgs: windowMessages()}, &fakeGateway{}, &fakeSender{}, nil)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if cp, _ := store.Get(key); cp != nil {
		t.Error("expired checkpoint should have been swept at the end of the run")
	}
}
