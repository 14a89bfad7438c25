package transcription

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cooldog631-ai/aim-bot/internal/gateway"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	results []func(ctx context.Context) (string, error)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Transcribe(ctx context.Context, audio Audio, language string) (string, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i](ctx)
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func fail(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

func hang(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func testPolicy() gateway.RetryPolicy {
	return gateway.RetryPolicy{MaxAttempts: 3, Timeout: 20 * time.Millisecond, BackoffBase: time.Millisecond, Multiplier: 2, MaxBackoff: 2 * time.Millisecond}
}

func newGateway(t *testing.T, b Backend) *Gateway {
	t.Helper()
	g, err := New(Opts{Backend: b, Policy: testPolicy()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNew_RequiresBackend(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestTranscribe_RetriesTransient(t *testing.T) {
	b := &fakeBackend{results: []func(context.Context) (string, error){
		fail(gateway.Transient("x", errors.New("503"))),
		ok("  25.10.2025 K-101  "),
	}}
	text, err := newGateway(t, b).Transcribe(context.Background(), Audio{Data: []byte("ogg")}, "ru")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "25.10.2025 K-101" {
		t.Errorf("text = %q", text)
	}
	if b.Calls() != 2 {
		t.Errorf("calls = %d, want 2", b.Calls())
	}
}

func TestTranscribe_TimeoutOnEveryAttempt(t *testing.T) {
	b := &fakeBackend{results: []func(context.Context) (string, error){hang}}
	_, err := newGateway(t, b).Transcribe(context.Background(), Audio{Data: []byte("ogg")}, "ru")
	if !gateway.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if b.Calls() != 3 {
		t.Errorf("calls = %d, want 3", b.Calls())
	}
}

func TestTranscribe_PermanentNotRetried(t *testing.T) {
	b := &fakeBackend{results: []func(context.Context) (string, error){
		fail(gateway.Permanent("x", errors.New("bad format"))),
	}}
	_, err := newGateway(t, b).Transcribe(context.Background(), Audio{Data: []byte("x")}, "ru")
	if !gateway.IsPermanent(err) || b.Calls() != 1 {
		t.Errorf("err = %v after %d calls, want permanent after 1", err, b.Calls())
	}
}

func TestTranscribe_RejectsBadInputWithoutCalling(t *testing.T) {
	b := &fakeBackend{results: []func(context.Context) (string, error){ok("x")}}
	g := newGateway(t, b)

	if _, err := g.Transcribe(context.Background(), Audio{}, "ru"); !gateway.IsPermanent(err) {
		t.Errorf("empty payload err = %v, want permanent", err)
	}
	if _, err := g.Transcribe(context.Background(), Audio{Data: []byte("x"), MimeType: "image/png"}, "ru"); !gateway.IsPermanent(err) {
		t.Errorf("image err = %v, want permanent", err)
	}
	if b.Calls() != 0 {
		t.Errorf("backend called %d times", b.Calls())
	}
}

func TestTranscribe_EmptyResultIsPermanent(t *testing.T) {
	b := &fakeBackend{results: []func(context.Context) (string, error){ok("   ")}}
	if _, err := newGateway(t, b).Transcribe(context.Background(), Audio{Data: []byte("x")}, "ru"); !gateway.IsPermanent(err) {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestSupportedMimeAndExtension(t *testing.T) {
	tests := []struct {
		mime      string
		supported bool
		ext       string
	}{
		{"", true, ".ogg"},
		{"audio/ogg; codecs=opus", true, ".ogg"},
		{"audio/mpeg", true, ".mp3"},
		{"audio/x-wav", true, ".wav"},
		{"image/jpeg", false, ".ogg"},
	}
	for _, tt := range tests {
		if got := SupportedMime(tt.mime); got != tt.supported {
			t.Errorf("SupportedMime(%q) = %v", tt.mime, got)
		}
		if got := Extension(tt.mime); got != tt.ext {
			t.Errorf("Extension(%q) = %q, want %q", tt.mime, got, tt.ext)
		}
	}
}

func TestWhisper_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("content type: %v", err)
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		fields := map[string]string{}
		for {
			p, err := mr.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(p)
			if p.FormName() == "file" {
				fields["filename"] = p.FileName()
			} else {
				fields[p.FormName()] = string(data)
			}
		}
		if fields["language"] != "ru" || fields["model"] != "whisper-1" {
			t.Errorf("fields = %v", fields)
		}
		if fields["filename"] != "voice.ogg" {
			t.Errorf("filename = %q", fields["filename"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"проверка"}`)
	}))
	defer srv.Close()

	wb, err := NewWhisper(WhisperOpts{APIKey: "k", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}
	text, err := wb.Transcribe(context.Background(), Audio{Data: []byte("OggS"), MimeType: "audio/ogg"}, "ru")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "проверка" {
		t.Errorf("text = %q", text)
	}
}

func TestWhisper_RateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	wb, _ := NewWhisper(WhisperOpts{APIKey: "k", BaseURL: srv.URL + "/v1"})
	_, err := wb.Transcribe(context.Background(), Audio{Data: []byte("x")}, "ru")
	if !gateway.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

type fakeRecognizer struct {
	req  *speechpb.RecognizeRequest
	resp *speechpb.RecognizeResponse
	err  error
}

func (f *fakeRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeRecognizer) Close() error { return nil }

func TestGoogle_Transcribe(t *testing.T) {
	fr := &fakeRecognizer{resp: &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "К-101 бригада 3"}}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " замена фильтра "}}},
		{},
	}}}
	g := &Google{client: fr}

	text, err := g.Transcribe(context.Background(), Audio{Data: []byte("x"), MimeType: "audio/ogg"}, "ru")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "К-101 бригада 3 замена фильтра" {
		t.Errorf("text = %q", text)
	}
	cfg := fr.req.GetConfig()
	if cfg.GetLanguageCode() != "ru-RU" || cfg.GetEncoding() != speechpb.RecognitionConfig_OGG_OPUS || cfg.GetSampleRateHertz() != 48000 {
		t.Errorf("config = %v", cfg)
	}
}

func TestGoogle_ErrorClassification(t *testing.T) {
	tests := []struct {
		code      codes.Code
		transient bool
	}{
		{codes.Unavailable, true},
		{codes.ResourceExhausted, true},
		{codes.DeadlineExceeded, true},
		{codes.InvalidArgument, false},
		{codes.PermissionDenied, false},
	}
	for _, tt := range tests {
		g := &Google{client: &fakeRecognizer{err: status.Error(tt.code, "x")}}
		_, err := g.Transcribe(context.Background(), Audio{Data: []byte("x")}, "ru")
		if gateway.IsTransient(err) != tt.transient {
			t.Errorf("%v: err = %v, transient = %v, want %v", tt.code, err, gateway.IsTransient(err), tt.transient)
		}
		if !tt.transient && !gateway.IsPermanent(err) {
			t.Errorf("%v: want permanent, got %v", tt.code, err)
		}
	}
}
