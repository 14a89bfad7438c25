// Package messenger defines the platform-neutral chat contract that every
// platform adapter (Discord, Slack, ...) satisfies, plus the canonical event
// shape and the fan-out handler dispatch shared by all adapters.
package messenger

import (
	"context"
	"strings"
	"time"
)

// Identity addresses one conversation: a user in a chat on a platform.
type Identity struct {
	Platform string
	UserID   string
	ChatID   string
}

// Key returns the lookup key used for per-identity state.
func (id Identity) Key() string {
	return id.Platform + ":" + id.ChatID + ":" + id.UserID
}

func (id Identity) String() string { return id.Key() }

// ContentType classifies an inbound event.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentVoice ContentType = "voice"
	ContentPhoto ContentType = "photo"
)

// MediaRef is an opaque, platform-specific media reference.
type MediaRef string

// UploadNotRequired is returned by UploadMedia on platforms that attach
// media inline with a message and need no pre-upload step.
const UploadNotRequired MediaRef = "upload-not-required"

// MediaKind describes what an uploaded payload is.
type MediaKind string

const (
	MediaAudio    MediaKind = "audio"
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
)

// Event is the canonical inbound event every adapter produces.
type Event struct {
	ID          string
	Identity    Identity
	UserName    string
	ContentType ContentType
	Text        string
	MediaRef    MediaRef
	MimeType    string
	// Command is the slash command name without the leading slash, set when
	// Text starts with "/". Args holds the remainder of the line.
	Command   string
	Args      string
	Timestamp time.Time
	// Raw is the untouched platform event, for adapters and audit only.
	Raw any
}

// Keyboard is an optional set of reply buttons attached to a message.
// Pressing a button is delivered back as a text event whose Text is the
// button's Data.
type Keyboard struct {
	Rows [][]Button
}

// Button is a single reply button.
type Button struct {
	Label string
	Data  string
}

// Buttons flattens the keyboard rows.
func (k *Keyboard) Buttons() []Button {
	if k == nil {
		return nil
	}
	var out []Button
	for _, row := range k.Rows {
		out = append(out, row...)
	}
	return out
}

// MessageHandle identifies a delivered message.
type MessageHandle struct {
	ChatID    string
	MessageID string
}

// Handler reacts to an inbound event. It replies through the port the event
// arrived on.
type Handler func(ctx context.Context, port Port, ev Event) error

// Port is the capability set the intake core needs from a chat platform.
type Port interface {
	// Platform returns the adapter's platform tag, e.g. "discord".
	Platform() string

	// Send delivers text (and an optional keyboard) to a chat.
	// Transport failures are returned as *DeliveryError.
	Send(ctx context.Context, chatID, text string, kb *Keyboard) (MessageHandle, error)

	// DownloadMedia fetches media by reference. Failures are returned as
	// *MediaUnavailableError.
	DownloadMedia(ctx context.Context, ref MediaRef) ([]byte, error)

	// UploadMedia stores a payload on the platform and returns its reference,
	// or UploadNotRequired when the platform has no pre-upload step.
	UploadMedia(ctx context.Context, data []byte, kind MediaKind) (MediaRef, error)

	// RegisterHandler adds a handler. Every handler whose filter matches an
	// event fires, in registration order.
	RegisterHandler(f Filter, h Handler)

	// Run connects to the platform and dispatches events until ctx is
	// cancelled or the connection fails permanently.
	Run(ctx context.Context) error

	// Close releases the platform connection.
	Close() error
}

// ParseCommand splits "/name@bot args" into ("name", "args"). It returns
// empty strings when text is not a command.
func ParseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}
