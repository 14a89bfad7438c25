package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cooldog631-ai/aim-bot/internal/gateway"
)

// chatClient is the subset of *openai.Client used here, so tests can
// substitute a fake.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIOpts configures an OpenAI-compatible backend.
type OpenAIOpts struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. a local LM Studio server.
	BaseURL string
	Model   string
}

// OpenAI completes prompts through the chat completions API.
type OpenAI struct {
	client chatClient
	model  string
	name   string
}

// NewOpenAI builds a chat backend. An empty API key is allowed only with a
// custom BaseURL, since local servers usually ignore it.
func NewOpenAI(opts OpenAIOpts) (*OpenAI, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: openai: model is required")
	}
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("llm: openai: api key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	name := "openai"
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
		name = "openai-compatible"
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: opts.Model, name: name}, nil
}

// Name identifies the backend in logs and metrics.
func (o *OpenAI) Name() string { return o.name }

// Complete sends one system+user exchange and returns the first choice.
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	creq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", ClassifyOpenAIError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", gateway.Transient("chat completion", errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

// ClassifyOpenAIError maps go-openai errors onto the gateway taxonomy by
// HTTP status. Errors without a status (network failures) are transient.
func ClassifyOpenAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return gateway.ClassifyStatus(op, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return gateway.ClassifyStatus(op, reqErr.HTTPStatusCode, err)
	}
	return gateway.Transient(op, err)
}
