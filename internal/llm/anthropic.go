package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cooldog631-ai/aim-bot/internal/gateway"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

// AnthropicOpts configures the Anthropic backend.
type AnthropicOpts struct {
	APIKey string
	Model  string
	// URL overrides the Messages endpoint (tests).
	URL        string
	HTTPClient *http.Client
}

// Anthropic completes prompts through the Messages API.
type Anthropic struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

// NewAnthropic builds the backend.
func NewAnthropic(opts AnthropicOpts) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: anthropic: api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: anthropic: model is required")
	}
	a := &Anthropic{apiKey: opts.APIKey, model: opts.Model, url: opts.URL, client: opts.HTTPClient}
	if a.url == "" {
		a.url = anthropicURL
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 120 * time.Second}
	}
	return a, nil
}

// Name identifies the backend in logs and metrics.
func (a *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float32            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one exchange and returns the first text block.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	const op = "anthropic messages"
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	body, err := json.Marshal(anthropicRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: req.User}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", gateway.Permanent(op, fmt.Errorf("marshal request: %w", err))
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", gateway.Permanent(op, fmt.Errorf("create request: %w", err))
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("x-api-key", a.apiKey)
	hreq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(hreq)
	if err != nil {
		return "", gateway.Transient(op, fmt.Errorf("api call: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", gateway.Transient(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Type != "" {
			err = fmt.Errorf("api error %d: %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		} else {
			err = fmt.Errorf("api error %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		}
		// 529 is Anthropic's "overloaded" status.
		return "", gateway.ClassifyStatus(op, resp.StatusCode, err)
	}

	var out anthropicResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", gateway.Transient(op, fmt.Errorf("unmarshal response: %w", err))
	}
	for _, c := range out.Content {
		if c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", gateway.Transient(op, errors.New("empty response content"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
