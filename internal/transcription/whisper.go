package transcription

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cooldog631-ai/aim-bot/internal/llm"
)

type audioClient interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperOpts configures the Whisper backend.
type WhisperOpts struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Whisper transcribes through the OpenAI audio transcription endpoint.
type Whisper struct {
	client audioClient
	model  string
}

// NewWhisper builds the backend.
func NewWhisper(opts WhisperOpts) (*Whisper, error) {
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("transcription: whisper: api key is required")
	}
	if opts.Model == "" {
		opts.Model = openai.Whisper1
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	return &Whisper{client: openai.NewClientWithConfig(cfg), model: opts.Model}, nil
}

func (w *Whisper) Name() string { return "whisper" }

// Transcribe uploads the audio and returns the recognized text.
func (w *Whisper) Transcribe(ctx context.Context, audio Audio, language string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Reader:   bytes.NewReader(audio.Data),
		FilePath: "voice" + Extension(audio.MimeType),
		Language: language,
	})
	if err != nil {
		return "", llm.ClassifyOpenAIError("whisper", err)
	}
	return resp.Text, nil
}
