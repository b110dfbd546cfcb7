package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"sumi/internal/apperr"
	"sumi/internal/config"
)

const requestTimeout = 30 * time.Second

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	cfg  *config.LLMConfig
	http *http.Client
}

func New(cfg *config.LLMConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}
}

// Configured reports whether an API key is present; unconfigured
// clients make the LLM tiers unavailable rather than erroring.
func (c *Client) Configured() bool {
	return c != nil && c.cfg != nil && c.cfg.APIKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	if !c.Configured() {
		return "", apperr.New(apperr.KindLLMFailure, "LLM not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
		MaxTokens:   4096,
	})
	if err != nil {
		return "", apperr.New(apperr.KindLLMFailure, "encode request: %v", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperr.New(apperr.KindLLMFailure, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.New(apperr.KindLLMFailure, "LLM request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", apperr.New(apperr.KindLLMFailure, "read response failed")
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.New(apperr.KindLLMFailure, "LLM status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", apperr.New(apperr.KindLLMFailure, "decode response failed")
	}
	if cr.Error != nil {
		return "", apperr.New(apperr.KindLLMFailure, "LLM error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", apperr.New(apperr.KindLLMFailure, "empty completion")
	}
	return cr.Choices[0].Message.Content, nil
}
