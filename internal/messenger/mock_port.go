package messenger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SentMessage is one message recorded by MockPort.
type SentMessage struct {
	ChatID   string
	Text     string
	Keyboard *Keyboard
}

// MockPort implements Port for tests. It records sent messages, serves media
// from an in-memory map, and lets tests push events through the dispatcher
// with Simulate.
type MockPort struct {
	*Dispatcher

	mu       sync.Mutex
	platform string
	sent     []SentMessage
	media    map[MediaRef][]byte
	uploads  [][]byte
	sendErr  error
	closed   bool
	counter  int
}

// NewMockPort creates a MockPort reporting the given platform tag.
func NewMockPort(platform string) *MockPort {
	if platform == "" {
		platform = "mock"
	}
	return &MockPort{
		Dispatcher: NewDispatcher(nil),
		platform:   platform,
		media:      make(map[MediaRef][]byte),
	}
}

// Platform returns the configured platform tag.
func (m *MockPort) Platform() string { return m.platform }

// Send records the message, or fails with a DeliveryError after FailSends.
func (m *MockPort) Send(ctx context.Context, chatID, text string, kb *Keyboard) (MessageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return MessageHandle{}, &DeliveryError{Platform: m.platform, ChatID: chatID, Err: m.sendErr}
	}
	if m.closed {
		return MessageHandle{}, &DeliveryError{Platform: m.platform, ChatID: chatID, Err: fmt.Errorf("port closed")}
	}
	m.counter++
	m.sent = append(m.sent, SentMessage{ChatID: chatID, Text: text, Keyboard: kb})
	return MessageHandle{ChatID: chatID, MessageID: fmt.Sprintf("msg-%d", m.counter)}, nil
}

// DownloadMedia returns media registered with SetMedia.
func (m *MockPort) DownloadMedia(ctx context.Context, ref MediaRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.media[ref]
	if !ok {
		return nil, &MediaUnavailableError{Platform: m.platform, Ref: ref, Err: fmt.Errorf("not found")}
	}
	return data, nil
}

// UploadMedia records the payload and returns the sentinel reference.
func (m *MockPort) UploadMedia(ctx context.Context, data []byte, kind MediaKind) (MediaRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, data)
	return UploadNotRequired, nil
}

// Run blocks until ctx is done.
func (m *MockPort) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Close marks the port closed; later sends fail.
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// --- Test helpers ---

// Simulate dispatches ev as if the platform delivered it, filling in ID,
// platform and timestamp when unset. It returns the number of handlers fired.
func (m *MockPort) Simulate(ctx context.Context, ev Event) int {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Identity.Platform == "" {
		ev.Identity.Platform = m.platform
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.ContentType == ContentText && ev.Command == "" {
		ev.Command, ev.Args = ParseCommand(ev.Text)
	}
	return m.Dispatch(ctx, m, ev)
}

// SetMedia registers a downloadable payload.
func (m *MockPort) SetMedia(ref MediaRef, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media[ref] = data
}

// FailSends makes every later Send fail with err. Pass nil to recover.
func (m *MockPort) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// LastSent returns the most recent message, or false if none was sent.
func (m *MockPort) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of messages sent.
func (m *MockPort) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of every sent message.
func (m *MockPort) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Uploads returns the number of UploadMedia calls.
func (m *MockPort) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}
