// Package ai implements pipeline.AIResponder for the ai_respond action:
// a single prompt-in, reply-out call against an OpenAI-compatible
// chat-completions endpoint. Grounded on pkg/llm/openai.go's request
// shape and auth header, deliberately simplified from that file's
// streaming, tool-calling, multi-provider Provider/Stream machinery
// (api_skipper's orchestrator) down to the one exchange ai_respond
// needs: it has no tools, no conversation history, and no caller
// waiting on incremental tokens.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatbroker/internal/config"
)

// Config configures a Responder. Mirrors pkg/llm.Config's field names so
// the same LLM_* environment variables work for either.
type Config struct {
	APIKey    string
	APIURL    string // defaults to "https://api.openai.com/v1"
	Model     string
	MaxTokens int
}

// LoadConfig reads LLM_API_KEY/LLM_API_URL/LLM_MODEL/LLM_MAX_TOKENS,
// matching pkg/llm/config.go's LoadConfig env names.
func LoadConfig() Config {
	return Config{
		APIKey:    config.GetEnv("LLM_API_KEY", ""),
		APIURL:    config.GetEnv("LLM_API_URL", "https://api.openai.com/v1"),
		Model:     config.GetEnv("LLM_MODEL", "gpt-4o-mini"),
		MaxTokens: config.GetEnvInt("LLM_MAX_TOKENS", 512),
	}
}

// Responder implements pipeline.AIResponder over one OpenAI-compatible
// chat-completions endpoint.
type Responder struct {
	client *http.Client
	cfg    Config
}

// New constructs a Responder. A zero-value APIKey is accepted; Respond
// then fails per-call rather than at construction, matching the
// teacher's provider constructors which never validate credentials
// eagerly.
func New(cfg Config) *Responder {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.openai.com/v1"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Responder{
		client: &http.Client{Timeout: 60 * time.Second},
		cfg:    cfg,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Respond posts prompt as a single user message and returns the first
// choice's content, implementing pipeline.AIResponder.
func (r *Responder) Respond(ctx context.Context, prompt string) (string, error) {
	if r.cfg.APIKey == "" {
		return "", fmt.Errorf("ai: LLM_API_KEY is not configured")
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:     r.cfg.Model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: r.cfg.MaxTokens,
		Stream:    false,
	})
	if err != nil {
		return "", fmt.Errorf("ai: encode request: %w", err)
	}

	url := r.cfg.APIURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai: read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("ai: provider error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("ai: provider returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("ai: provider returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
