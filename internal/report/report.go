// Package report assembles and persists the bulletin produced by a run.
package report

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akarol/lore-digest/internal/checkpoint"
	"github.com/akarol/lore-digest/internal/cluster"
)

// Bulletin is the complete output of one digest run, before delivery.
type Bulletin struct {
	FeedID      string
	FeedName    string
	WindowStart time.Time
	WindowEnd   time.Time
	Model       string

	TotalUnits      int
	TotalThreads    int
	AnalyzedThreads int
	FailedThreads   int

	Body     string // synthesized (or fallback) narrative
	Residual []*cluster.Thread
	Timings  map[string]float64 // phase -> seconds
	Fallback bool
}

// Render produces the plain-text bulletin as sent and archived. The header
// and footer are deterministic; only Body comes from the engine.
func (b *Bulletin) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s digest, %s\n", b.FeedName, b.WindowEnd.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Window: %s to %s\n",
		b.WindowStart.Format("Jan 2 15:04"), b.WindowEnd.Format("Jan 2 15:04"))
	fmt.Fprintf(&sb, "%d relevant threads from %d messages across %d threads",
		b.AnalyzedThreads, b.TotalUnits, b.TotalThreads)
	if b.FailedThreads > 0 {
		fmt.Fprintf(&sb, " (%d analyses failed)", b.FailedThreads)
	}
	sb.WriteString("\n\n")

	sb.WriteString(strings.TrimSpace(b.Body))
	sb.WriteString("\n")

	if len(b.Residual) > 0 && !strings.Contains(b.Body, b.Residual[0].Subject()) {
		sb.WriteString("\nLower-relevance threads:\n")
		for _, t := range b.Residual {
			fmt.Fprintf(&sb, "- %s\n", t.Subject())
		}
	}

	fmt.Fprintf(&sb, "\nModel: %s", b.Model)
	if b.Fallback {
		sb.WriteString(" (synthesis fell back to mechanical rendering)")
	}
	sb.WriteString("\n")
	if len(b.Timings) > 0 {
		sb.WriteString(renderTimings(b.Timings))
	}
	return sb.String()
}

func renderTimings(timings map[string]float64) string {
	phases := []string{"fetch", "cluster", "analyze", "synthesize"}
	parts := make([]string, 0, len(phases))
	for _, p := range phases {
		if sec, ok := timings[p]; ok {
			parts = append(parts, fmt.Sprintf("%s %.1fs", p, sec))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Timings: " + strings.Join(parts, ", ") + "\n"
}

// WriteFile archives the rendered bulletin under outputDir and returns the
// path. The filename carries the feed and the window end date so repeated
// runs on the same day overwrite rather than accumulate.
func (b *Bulletin) WriteFile(outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.txt", b.FeedID, b.WindowEnd.Format("2006-01-02"))
	path := filepath.Join(outputDir, name)
	if err := os.WriteFile(path, []byte(b.Render()), 0o644); err != nil {
		return "", fmt.Errorf("writing bulletin: %w", err)
	}
	return path, nil
}

// Persist archives the bulletin to disk and records it in the store. The
// durable record exists before any delivery attempt, so a failed send never
// loses the run's output.
func (b *Bulletin) Persist(store *checkpoint.Store, outputDir string) (*checkpoint.BulletinRecord, error) {
	path, err := b.WriteFile(outputDir)
	if err != nil {
		return nil, err
	}
	log.Printf("report: bulletin written to %s", path)

	timings, err := json.Marshal(b.Timings)
	if err != nil {
		return nil, fmt.Errorf("encoding timings: %w", err)
	}
	rec := &checkpoint.BulletinRecord{
		FeedID:          b.FeedID,
		WindowStart:     b.WindowStart,
		WindowEnd:       b.WindowEnd,
		Model:           b.Model,
		TotalUnits:      b.TotalUnits,
		TotalThreads:    b.TotalThreads,
		AnalyzedThreads: b.AnalyzedThreads,
		Body:            b.Render(),
		Timings:         string(timings),
		FilePath:        path,
	}
	if err := store.InsertBulletin(rec); err != nil {
		return nil, fmt.Errorf("recording bulletin: %w", err)
	}
	return rec, nil
}

// QuietPeriod renders the short notice sent when the window held no
// messages at all. No bulletin is archived for a quiet period.
func QuietPeriod(feedName string, windowStart, windowEnd time.Time) string {
	return fmt.Sprintf("%s digest, %s\nNo messages in the window (%s to %s). Quiet period.\n",
		feedName, windowEnd.Format("2006-01-02"),
		windowStart.Format("Jan 2 15:04"), windowEnd.Format("Jan 2 15:04"))
}
