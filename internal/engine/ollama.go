package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaClient implements Completer against a native Ollama server. It is
// also the only provider that supports residency control (listing, evicting
// and preloading models), which admission depends on.
type OllamaClient struct {
	baseURL string
	model   string
	numCtx  int
	client  *http.Client
}

// NewOllamaClient creates a new Ollama client for the given completion model.
func NewOllamaClient(baseURL, model string, numCtx int) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		numCtx:  numCtx,
		// Per-call deadlines come from the caller's context; local
		// inference legitimately takes minutes.
		client: &http.Client{},
	}
}

type ollamaChatRequest struct {
	Model     string              `json:"model"`
	Messages  []ollamaChatMessage `json:"messages"`
	Stream    bool                `json:"stream"`
	Options   ollamaOptions       `json:"options"`
	KeepAlive string              `json:"keep_alive"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	NumCtx      int     `json:"num_ctx"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	EvalCount int `json:"eval_count"`
}

// modelRequest is the /api/generate payload used for preload and eviction;
// admission needs to address models other than the completion model.
type modelRequest struct {
	Model     string      `json:"model"`
	Prompt    string      `json:"prompt,omitempty"`
	Stream    bool        `json:"stream"`
	Options   interface{} `json:"options,omitempty"`
	KeepAlive interface{} `json:"keep_alive"`
}

// Complete sends a chat completion request to the engine.
func (c *OllamaClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}

	var messages []ollamaChatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.UserPrompt})

	body := ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
			NumCtx:      c.numCtx,
		},
		KeepAlive: "60m",
	}

	start := time.Now()
	var resp ollamaChatResponse
	if err := c.post(ctx, "/api/chat", body, &resp); err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return &CompletionResponse{
		Content:    resp.Message.Content,
		Model:      resp.Model,
		TokensUsed: resp.EvalCount,
		Elapsed:    time.Since(start),
	}, nil
}

// CheckHealth verifies the engine answers /api/tags and that the expected
// model is advertised as available.
func (c *OllamaClient) CheckHealth(ctx context.Context, model string) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("engine unreachable: %w", err)
	}
	for _, m := range models {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("model %s not advertised by engine", model)
}

// ListModels returns the model names the engine has available (/api/tags).
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.get(ctx, "/api/tags", &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Resident returns the models currently loaded on the engine (/api/ps).
func (c *OllamaClient) Resident(ctx context.Context) ([]ResidentModel, error) {
	var resp struct {
		Models []struct {
			Name      string `json:"name"`
			Size      int64  `json:"size"`
			ExpiresAt string `json:"expires_at"`
		} `json:"models"`
	}
	if err := c.get(ctx, "/api/ps", &resp); err != nil {
		return nil, err
	}
	resident := make([]ResidentModel, 0, len(resp.Models))
	for _, m := range resp.Models {
		rm := ResidentModel{Name: m.Name, SizeBytes: m.Size}
		if t, err := time.Parse(time.RFC3339, m.ExpiresAt); err == nil {
			rm.ExpiresAt = t
		}
		resident = append(resident, rm)
	}
	return resident, nil
}

// Evict asks the engine to drop a model by requesting zero residency.
func (c *OllamaClient) Evict(ctx context.Context, model string) error {
	body := modelRequest{Model: model, Stream: false, KeepAlive: 0}
	if err := c.post(ctx, "/api/generate", body, &json.RawMessage{}); err != nil {
		return fmt.Errorf("evicting %s: %w", model, err)
	}
	return nil
}

// Preload loads a model with an empty generate call so the first real
// inference does not pay the load latency.
func (c *OllamaClient) Preload(ctx context.Context, model string) error {
	body := modelRequest{
		Model:  model,
		Prompt: "",
		Stream: false,
		Options: ollamaOptions{
			NumPredict: 1,
			NumCtx:     c.numCtx,
		},
		KeepAlive: "60m",
	}
	if err := c.post(ctx, "/api/generate", body, &json.RawMessage{}); err != nil {
		return fmt.Errorf("preloading %s: %w", model, err)
	}
	return nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *OllamaClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *OllamaClient) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, firstLine(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}
