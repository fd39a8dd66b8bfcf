package engine

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Completer against any OpenAI-compatible server
// (llama.cpp, vLLM, or Ollama's /v1 endpoint). Residency control is not
// part of the OpenAI surface, so admission degrades to lock-only when this
// provider is selected.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client pointed at an OpenAI-compatible base URL.
// An API key is optional for local servers.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Complete sends a chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}

	messages := []openai.ChatCompletionMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
		Messages:    messages,
	})
	if err != nil {
		return nil, fmt.Errorf("openai-compatible API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai-compatible API returned no choices")
	}

	return &CompletionResponse{
		Content:    resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
		Elapsed:    time.Since(start),
	}, nil
}

// CheckHealth verifies the server answers the models endpoint and lists the
// expected model.
func (c *OpenAIClient) CheckHealth(ctx context.Context, model string) error {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("engine unreachable: %w", err)
	}
	for _, m := range list.Models {
		if m.ID == model {
			return nil
		}
	}
	return fmt.Errorf("model %s not advertised by engine", model)
}
