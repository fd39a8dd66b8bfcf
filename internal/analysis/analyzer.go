package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/akarol/lore-digest/internal/checkpoint"
	"github.com/akarol/lore-digest/internal/cluster"
)

const (
	rootExcerptBytes  = 1200
	replyExcerptBytes = 300
	maxReplyExcerpts  = 5
)

const analyzeSystemPrompt = `You are analyzing one mailing-list thread for a kernel engineer's daily digest.
Base your analysis ONLY on the thread excerpts provided. Do not invent
details that are not in the text.

Output a JSON object:
{
  "subject": "thread subject, unmodified",
  "tags": ["patch-series" | "bug-report" | "regression" | "discussion" | "pull-request" | "announcement"],
  "summary": "2-3 sentences: what this thread is about and what happened in it",
  "status": "new | under-review | accepted | rejected | stalled | unclear",
  "impact": "one sentence on who is affected and how much it matters"
}

Output ONLY valid JSON. No markdown, no explanation.`

// Analyzer runs the per-thread analysis pass, memoized through the
// checkpoint store so no thread is analyzed twice within overlapping runs.
type Analyzer struct {
	gateway Gateway
	store   *checkpoint.Store
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(gateway Gateway, store *checkpoint.Store) *Analyzer {
	return &Analyzer{gateway: gateway, store: store}
}

// AnalyzeThreads analyzes the given threads in order (callers pass them in
// descending-score order, so an interrupted run has always covered the most
// relevant threads first). Individual failures produce a failed
// ThreadAnalysis and the loop continues; only checkpointed successes skip
// the engine.
func (a *Analyzer) AnalyzeThreads(ctx context.Context, feedID string, threads []*cluster.Thread) []*ThreadAnalysis {
	results := make([]*ThreadAnalysis, 0, len(threads))

	for _, t := range threads {
		key := CheckpointKey("analysis", feedID, t.Key)

		cp, computed, err := a.store.GetOrCompute(key, "analysis", t.Key, func() (string, string, time.Duration, error) {
			ta, err := a.analyzeOne(ctx, t)
			if err != nil {
				return "", "", 0, err
			}
			payload, err := json.Marshal(ta)
			if err != nil {
				return "", "", 0, err
			}
			return string(payload), ta.Model, time.Duration(ta.ElapsedMS) * time.Millisecond, nil
		})
		if err != nil {
			// Failures are not checkpointed: the next run retries them.
			log.Printf("analysis: thread %q failed: %v", t.Subject(), err)
			results = append(results, failedAnalysis(t))
			continue
		}

		ta := &ThreadAnalysis{}
		if err := json.Unmarshal([]byte(cp.Payload), ta); err != nil {
			log.Printf("analysis: corrupt checkpoint %s for %q: %v", key, t.Subject(), err)
			results = append(results, failedAnalysis(t))
			continue
		}
		if !computed {
			log.Printf("analysis: checkpoint hit for %q, skipping inference", t.Subject())
		}
		results = append(results, ta)
	}
	return results
}

// analyzeOne builds the bounded prompt and invokes the gateway once
// (the gateway owns retries and health checks).
func (a *Analyzer) analyzeOne(ctx context.Context, t *cluster.Thread) (*ThreadAnalysis, error) {
	resp, err := a.gateway.Analyze(ctx, analyzeSystemPrompt, buildThreadPrompt(t))
	if err != nil {
		return nil, err
	}

	ta := &ThreadAnalysis{}
	if !ExtractJSONObject(resp.Content, ta) {
		// Salvage unparseable output as a plain summary rather than
		// discarding a paid-for completion.
		ta.Summary = strings.TrimSpace(resp.Content)
	}
	if ta.Subject == "" {
		ta.Subject = t.Subject()
	}
	ta.Authors = t.Authors
	ta.Keywords = t.Matched
	ta.Score = t.Score
	ta.Model = resp.Model
	ta.TokensUsed = resp.TokensUsed
	ta.ElapsedMS = resp.Elapsed.Milliseconds()
	return ta, nil
}

// buildThreadPrompt renders the thread root, up to five reply excerpts, and
// the matched keywords into a bounded prompt.
func buildThreadPrompt(t *cluster.Thread) string {
	var b strings.Builder

	root := t.Root()
	fmt.Fprintf(&b, "Subject: %s\n", t.Subject())
	fmt.Fprintf(&b, "Messages: %d | Authors: %s\n", len(t.Units), strings.Join(t.Authors, ", "))
	if len(t.Matched) > 0 {
		fmt.Fprintf(&b, "Matched keywords: %s\n", strings.Join(t.Matched, ", "))
	}
	if t.Submission {
		b.WriteString("Thread type: patch/submission series\n")
	}

	fmt.Fprintf(&b, "\n--- Root message (%s, %s) ---\n%s\n",
		root.Author, root.Date.Format("2006-01-02"), excerpt(root.Body, rootExcerptBytes))

	replies := t.Replies()
	if len(replies) > maxReplyExcerpts {
		replies = replies[:maxReplyExcerpts]
	}
	for _, r := range replies {
		fmt.Fprintf(&b, "\n--- Reply (%s, %s) ---\n%s\n",
			r.Author, r.Date.Format("2006-01-02"), excerpt(r.Body, replyExcerptBytes))
	}
	return b.String()
}

func failedAnalysis(t *cluster.Thread) *ThreadAnalysis {
	return &ThreadAnalysis{
		Subject:  t.Subject(),
		Authors:  t.Authors,
		Keywords: t.Matched,
		Score:    t.Score,
		Failed:   true,
	}
}

// excerpt truncates to at most n bytes, backing off to a rune boundary so
// the prompt never carries a broken UTF-8 sequence.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
