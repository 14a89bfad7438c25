package bot

import (
	"context"
	"fmt"

	"github.com/cooldog631-ai/aim-bot/internal/config"
	"github.com/cooldog631-ai/aim-bot/internal/extraction"
	"github.com/cooldog631-ai/aim-bot/internal/llm"
	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/messenger/discord"
	"github.com/cooldog631-ai/aim-bot/internal/messenger/slack"
	"github.com/cooldog631-ai/aim-bot/internal/metrics"
	"github.com/cooldog631-ai/aim-bot/internal/transcription"
)

// buildPorts creates an adapter for every configured platform.
func buildPorts(cfg *config.Config, log *logger.Logger) ([]messenger.Port, error) {
	var ports []messenger.Port
	if d := cfg.Platforms.Discord; d.Enabled() {
		a, err := discord.New(discord.AdapterOpts{BotToken: d.BotToken, Log: log})
		if err != nil {
			return nil, err
		}
		ports = append(ports, a)
	}
	if s := cfg.Platforms.Slack; s.Enabled() {
		a, err := slack.New(slack.AdapterOpts{AppToken: s.AppToken, BotToken: s.BotToken, Log: log})
		if err != nil {
			return nil, err
		}
		ports = append(ports, a)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("bot: no platform configured")
	}
	return ports, nil
}

// buildTranscriber wraps the configured speech backend in a gateway. The
// returned close func releases backend connections.
func buildTranscriber(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*transcription.Gateway, func() error, error) {
	var backend transcription.Backend
	closeFn := func() error { return nil }

	switch cfg.AI.TranscriptionProvider {
	case "google":
		g, err := transcription.NewGoogle(ctx, transcription.GoogleOpts{Credentials: cfg.AI.GoogleCredentials})
		if err != nil {
			return nil, nil, fmt.Errorf("bot: google speech: %w", err)
		}
		backend, closeFn = g, g.Close
	default:
		w, err := transcription.NewWhisper(transcription.WhisperOpts{
			APIKey:  cfg.AI.OpenAIAPIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.TranscriptionModel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("bot: whisper: %w", err)
		}
		backend = w
	}

	gw, err := transcription.New(transcription.Opts{
		Backend: backend,
		Policy:  cfg.RetryPolicy(),
		Log:     log,
		Metrics: m,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return gw, closeFn, nil
}

// buildCompleter selects the extraction model backend.
func buildCompleter(cfg *config.Config) (llm.Completer, error) {
	switch cfg.AI.Provider {
	case "anthropic":
		return llm.NewAnthropic(llm.AnthropicOpts{APIKey: cfg.AI.AnthropicAPIKey, Model: cfg.AI.AnthropicModel})
	case "openai", "local":
		return llm.NewOpenAI(llm.OpenAIOpts{
			APIKey:  cfg.AI.OpenAIAPIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.ExtractionModel,
		})
	}
	return nil, fmt.Errorf("bot: unknown ai provider %q", cfg.AI.Provider)
}

func buildExtractor(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*extraction.Gateway, error) {
	completer, err := buildCompleter(cfg)
	if err != nil {
		return nil, err
	}
	return extraction.New(extraction.Opts{
		Completer:   completer,
		Fields:      cfg.FieldSet(),
		Policy:      cfg.RetryPolicy(),
		JSONMode:    cfg.AI.JSONMode,
		Temperature: cfg.AI.Temperature,
		Log:         log,
		Metrics:     m,
	})
}
