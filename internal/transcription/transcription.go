// Package transcription turns voice messages into text through a
// speech-to-text backend, applying the gateway timeout and retry policy.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cooldog631-ai/aim-bot/internal/gateway"
	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/metrics"
)

const gatewayName = "transcription"

// Audio is a voice payload with its MIME type, if known.
type Audio struct {
	Data     []byte
	MimeType string
}

// Backend is one speech-to-text provider. It should classify its errors
// with gateway.Transient / gateway.Permanent.
type Backend interface {
	Transcribe(ctx context.Context, audio Audio, language string) (string, error)
	Name() string
}

// Opts configures a Gateway.
type Opts struct {
	Backend Backend
	Policy  gateway.RetryPolicy
	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// Gateway wraps a backend with validation, retries and timeouts.
type Gateway struct {
	backend Backend
	policy  gateway.RetryPolicy
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a Gateway.
func New(opts Opts) (*Gateway, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("transcription: backend is required")
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = gateway.DefaultRetryPolicy()
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	g := &Gateway{
		backend: opts.Backend,
		policy:  opts.Policy,
		log:     opts.Log.With("gateway", gatewayName, "backend", opts.Backend.Name()),
		metrics: opts.Metrics,
	}
	userHook := g.policy.OnRetry
	g.policy.OnRetry = func(op string, attempt int, wait time.Duration, err error) {
		g.metrics.GatewayRetry(gatewayName)
		g.log.Warn("transcription: retrying", "attempt", attempt, "wait", wait, "error", err)
		if userHook != nil {
			userHook(op, attempt, wait, err)
		}
	}
	return g, nil
}

// Transcribe converts audio to text. Empty payloads and unsupported
// formats fail permanently without calling the backend.
func (g *Gateway) Transcribe(ctx context.Context, audio Audio, language string) (string, error) {
	started := time.Now()
	if len(audio.Data) == 0 {
		g.metrics.GatewayCall(gatewayName, "permanent", started)
		return "", gateway.Permanent("transcribe", errors.New("empty audio payload"))
	}
	if !SupportedMime(audio.MimeType) {
		g.metrics.GatewayCall(gatewayName, "permanent", started)
		return "", gateway.Permanent("transcribe", fmt.Errorf("unsupported audio format %q", audio.MimeType))
	}

	text, err := gateway.Do(ctx, g.policy, "transcribe", func(ctx context.Context) (string, error) {
		return g.backend.Transcribe(ctx, audio, language)
	})
	switch {
	case err == nil:
		g.metrics.GatewayCall(gatewayName, "ok", started)
	case gateway.IsPermanent(err):
		g.metrics.GatewayCall(gatewayName, "permanent", started)
		return "", err
	default:
		g.metrics.GatewayCall(gatewayName, "transient", started)
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", gateway.Permanent("transcribe", errors.New("no speech recognized"))
	}
	g.log.Debug("transcription: done", "bytes", len(audio.Data), "chars", len(text), "elapsed", time.Since(started))
	return text, nil
}

// extensions maps supported MIME types to the file extension backends use
// to detect the container format.
var extensions = map[string]string{
	"audio/ogg":       ".ogg",
	"audio/opus":      ".ogg",
	"application/ogg": ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/mp4":       ".m4a",
	"audio/m4a":       ".m4a",
	"audio/x-m4a":     ".m4a",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/wave":      ".wav",
	"audio/webm":      ".webm",
	"video/webm":      ".webm",
	"audio/flac":      ".flac",
	"audio/x-flac":    ".flac",
}

func baseMime(mime string) string {
	mime, _, _ = strings.Cut(strings.ToLower(strings.TrimSpace(mime)), ";")
	return strings.TrimSpace(mime)
}

// SupportedMime reports whether mime is a format the backends accept. An
// empty type is accepted and treated as Ogg/Opus, the voice-note default.
func SupportedMime(mime string) bool {
	m := baseMime(mime)
	if m == "" {
		return true
	}
	_, ok := extensions[m]
	return ok
}

// Extension returns the file extension for mime, defaulting to ".ogg".
func Extension(mime string) string {
	if ext, ok := extensions[baseMime(mime)]; ok {
		return ext
	}
	return ".ogg"
}
