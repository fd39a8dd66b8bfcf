package analysis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/akarol/lore-digest/internal/checkpoint"
	"github.com/akarol/lore-digest/internal/cluster"
)

const synthesizeSystemPrompt = `You are writing a daily mailing-list bulletin for a kernel engineer.
You are given structured analyses of the most relevant threads, plus the
subjects of lower-relevance threads. Compose one readable briefing:

- Lead with the threads that matter most (regressions, accepted series,
  contested reviews).
- One short paragraph per analyzed thread: what it is, where it stands,
  why it matters.
- Close with a one-line-per-subject list of the remaining threads.
- Plain text, no markdown headers. Under 700 words. English only.`

// Synthesizer composes all per-thread analyses into one bulletin body,
// falling back to a deterministic composer when the engine cannot serve the
// synthesis call.
type Synthesizer struct {
	gateway Gateway
	store   *checkpoint.Store
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(gateway Gateway, store *checkpoint.Store) *Synthesizer {
	return &Synthesizer{gateway: gateway, store: store}
}

// Compose returns the bulletin body. The second return value reports
// whether the engine produced it (false means the deterministic fallback
// ran). Successful syntheses are checkpointed; fallbacks are not, so a
// rerun with a recovered engine can still produce the good version.
func (s *Synthesizer) Compose(ctx context.Context, feedID string, analyses []*ThreadAnalysis, residual []*cluster.Thread) (string, bool) {
	userPrompt := buildSynthesisPrompt(analyses, residual)
	key := CheckpointKey("synthesis", feedID, hashPrompt(userPrompt))

	cp, _, err := s.store.GetOrCompute(key, "synthesis", "", func() (string, string, time.Duration, error) {
		resp, err := s.gateway.Synthesize(ctx, synthesizeSystemPrompt, userPrompt)
		if err != nil {
			return "", "", 0, err
		}
		return resp.Content, resp.Model, resp.Elapsed, nil
	})
	if err != nil {
		log.Printf("synthesis: engine synthesis failed (%v), using fallback composer", err)
		return FallbackCompose(analyses, residual), false
	}
	return cp.Payload, true
}

// buildSynthesisPrompt renders every analysis (failed ones minimally) and
// the residual subject list into the synthesis input.
func buildSynthesisPrompt(analyses []*ThreadAnalysis, residual []*cluster.Thread) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyzed threads (%d):\n", len(analyses))
	for i, ta := range analyses {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, ta.Subject)
		fmt.Fprintf(&b, "    score=%.1f authors=%s\n", ta.Score, strings.Join(ta.Authors, ", "))
		if ta.Failed {
			b.WriteString("    (analysis unavailable)\n")
			continue
		}
		if len(ta.Tags) > 0 {
			fmt.Fprintf(&b, "    tags=%s status=%s\n", strings.Join(ta.Tags, ","), ta.Status)
		}
		fmt.Fprintf(&b, "    summary: %s\n", ta.Summary)
		if ta.Impact != "" {
			fmt.Fprintf(&b, "    impact: %s\n", ta.Impact)
		}
	}

	if len(residual) > 0 {
		fmt.Fprintf(&b, "\nOther threads, subject only (%d):\n", len(residual))
		for _, t := range residual {
			fmt.Fprintf(&b, "- %s (%.1f)\n", t.Subject(), t.Score)
		}
	}
	return b.String()
}

// FallbackCompose mechanically renders each analysis as a short paragraph.
// The pipeline must always be able to produce some bulletin even with the
// engine fully unavailable for the synthesis phase.
func FallbackCompose(analyses []*ThreadAnalysis, residual []*cluster.Thread) string {
	var b strings.Builder

	b.WriteString("Thread digest (automatic fallback rendering):\n")
	for _, ta := range analyses {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s\n", ta.Subject)
		if ta.Failed {
			fmt.Fprintf(&b, "Analysis unavailable. Participants: %s.\n", joinOr(ta.Authors, "unknown"))
			continue
		}
		if ta.Summary != "" {
			fmt.Fprintf(&b, "%s\n", firstSentence(ta.Summary))
		}
		fmt.Fprintf(&b, "Participants: %s.\n", joinOr(ta.Authors, "unknown"))
	}

	if len(residual) > 0 {
		b.WriteString("\nAlso seen:\n")
		for _, t := range residual {
			fmt.Fprintf(&b, "- %s\n", t.Subject())
		}
	}
	return b.String()
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?"); i >= 0 && i < len(s)-1 {
		return s[:i+1]
	}
	return s
}

func joinOr(list []string, fallback string) string {
	if len(list) == 0 {
		return fallback
	}
	return strings.Join(list, ", ")
}

func hashPrompt(s string) string {
	return CheckpointKey("prompt", "", s)
}
