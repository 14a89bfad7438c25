package transcription

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cooldog631-ai/aim-bot/internal/gateway"
)

// recognizer is the slice of the Speech client used here.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type speechClient struct{ c *speech.Client }

func (s speechClient) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return s.c.Recognize(ctx, req)
}

func (s speechClient) Close() error { return s.c.Close() }

// GoogleOpts configures the Google Speech-to-Text backend.
type GoogleOpts struct {
	// Credentials is a service account JSON document or a path to one.
	// Empty uses application default credentials.
	Credentials string
	Model       string
}

// Google transcribes short voice notes with synchronous recognition.
type Google struct {
	client recognizer
	model  string
}

// NewGoogle dials the Speech API.
func NewGoogle(ctx context.Context, opts GoogleOpts) (*Google, error) {
	var copts []option.ClientOption
	creds := strings.TrimSpace(opts.Credentials)
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		copts = append(copts, option.WithCredentialsJSON([]byte(creds)))
	default:
		copts = append(copts, option.WithCredentialsFile(creds))
	}
	c, err := speech.NewClient(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("transcription: google: speech client: %w", err)
	}
	return &Google{client: speechClient{c: c}, model: opts.Model}, nil
}

func (g *Google) Name() string { return "google" }

// Close releases the gRPC connection.
func (g *Google) Close() error { return g.client.Close() }

// Transcribe runs synchronous recognition and joins the top alternative of
// every result.
func (g *Google) Transcribe(ctx context.Context, audio Audio, language string) (string, error) {
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               languageCode(language),
		Model:                      g.model,
		EnableAutomaticPunctuation: true,
		Encoding:                   speechEncoding(audio.MimeType),
	}
	if cfg.Encoding == speechpb.RecognitionConfig_OGG_OPUS {
		cfg.SampleRateHertz = 48000
	}
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: cfg,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Data}},
	})
	if err != nil {
		return "", classifyGRPC("google recognize", err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " "), nil
}

func classifyGRPC(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal, codes.Unknown:
		return gateway.Transient(op, err)
	case codes.Canceled:
		return err
	default:
		return gateway.Permanent(op, err)
	}
}

// languageCode expands a bare language hint to a BCP-47 tag.
func languageCode(lang string) string {
	lang = strings.TrimSpace(lang)
	switch strings.ToLower(lang) {
	case "":
		return "ru-RU"
	case "ru":
		return "ru-RU"
	case "en":
		return "en-US"
	case "uk":
		return "uk-UA"
	case "kk":
		return "kk-KZ"
	}
	return lang
}

func speechEncoding(mime string) speechpb.RecognitionConfig_AudioEncoding {
	switch Extension(mime) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	case ".ogg":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
