package analysis

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/akarol/lore-digest/internal/engine"
)

// Gateway is the slice of the inference gateway the analysis phase needs.
type Gateway interface {
	Analyze(ctx context.Context, systemPrompt, userPrompt string) (*engine.CompletionResponse, error)
	Synthesize(ctx context.Context, systemPrompt, userPrompt string) (*engine.CompletionResponse, error)
	Model() string
}

// ThreadAnalysis is the structured analysis of one thread. Failed analyses
// carry an empty summary and are excluded from the detailed bulletin
// section but still counted.
type ThreadAnalysis struct {
	Subject    string   `json:"subject"`
	Tags       []string `json:"tags,omitempty"`
	Summary    string   `json:"summary"`
	Status     string   `json:"status,omitempty"`
	Impact     string   `json:"impact,omitempty"`
	Authors    []string `json:"authors,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Score      float64  `json:"score"`
	Failed     bool     `json:"failed,omitempty"`
	Model      string   `json:"model,omitempty"`
	TokensUsed int      `json:"tokens_used,omitempty"`
	ElapsedMS  int64    `json:"elapsed_ms,omitempty"`
}

// CheckpointKey derives the short content-addressed key for a pipeline
// stage: sha256 over stage, feed and cluster key, truncated to 16 hex
// characters.
func CheckpointKey(stage, feedID, clusterKey string) string {
	h := sha256.Sum256([]byte(stage + "|" + feedID + "|" + clusterKey))
	return fmt.Sprintf("%x", h)[:16]
}
