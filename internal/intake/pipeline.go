package intake

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cooldog631-ai/aim-bot/internal/extraction"
	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/metrics"
	"github.com/cooldog631-ai/aim-bot/internal/report"
	"github.com/cooldog631-ai/aim-bot/internal/transcription"
)

// Transcriber converts voice payloads to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio transcription.Audio, language string) (string, error)
}

// Extractor parses transcripts into report fields.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (extraction.Result, error)
	Merge(ctx context.Context, partial report.Fields, transcript string) (extraction.Result, error)
}

// Submission is a confirmed draft handed to persistence.
type Submission struct {
	SessionID   string
	Identity    messenger.Identity
	UserName    string
	Draft       report.Draft
	Transcripts []string
}

// PersistenceSink stores confirmed reports.
type PersistenceSink interface {
	// Create stores the report and returns its id.
	Create(ctx context.Context, sub Submission) (uint, error)
	// ListRecent returns the identity's reports dated within [from, to],
	// newest first.
	ListRecent(ctx context.Context, id messenger.Identity, from, to time.Time) ([]report.Record, error)
}

// SessionRecorder keeps an audit trail of closed sessions.
type SessionRecorder interface {
	RecordSession(ctx context.Context, sum Summary) error
}

// Opts holds the collaborators of a Pipeline.
type Opts struct {
	Sessions    *SessionManager
	Transcriber Transcriber
	Extractor   Extractor
	Sink        PersistenceSink
	Recorder    SessionRecorder // optional
	Fields      report.FieldSet
	Language    string // transcription hint, defaults to "ru"
	Log         *logger.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Pipeline drives report conversations: it consumes events from any Port,
// runs them through the session state machine and the AI gateways, and
// replies on the port the event came from.
type Pipeline struct {
	sessions    *SessionManager
	transcriber Transcriber
	extractor   Extractor
	sink        PersistenceSink
	recorder    SessionRecorder
	fields      report.FieldSet
	language    string
	log         *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu    sync.RWMutex
	ports map[string]messenger.Port
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	switch {
	case opts.Sessions == nil:
		return nil, fmt.Errorf("intake: pipeline: sessions is required")
	case opts.Transcriber == nil:
		return nil, fmt.Errorf("intake: pipeline: transcriber is required")
	case opts.Extractor == nil:
		return nil, fmt.Errorf("intake: pipeline: extractor is required")
	case opts.Sink == nil:
		return nil, fmt.Errorf("intake: pipeline: sink is required")
	case opts.Fields.Len() == 0:
		return nil, fmt.Errorf("intake: pipeline: field set is required")
	}
	if opts.Language == "" {
		opts.Language = "ru"
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		sessions:    opts.Sessions,
		transcriber: opts.Transcriber,
		extractor:   opts.Extractor,
		sink:        opts.Sink,
		recorder:    opts.Recorder,
		fields:      opts.Fields,
		language:    opts.Language,
		log:         opts.Log,
		metrics:     opts.Metrics,
		now:         opts.Now,
		ports:       make(map[string]messenger.Port),
	}, nil
}

// Attach registers the pipeline's handlers on port: the audit logger, the
// informational commands and the report conversation, in that order.
func (p *Pipeline) Attach(port messenger.Port) {
	p.mu.Lock()
	p.ports[port.Platform()] = port
	p.mu.Unlock()

	port.RegisterHandler(messenger.Filter{}, p.audit)
	port.RegisterHandler(messenger.Filter{Commands: infoCommands}, p.HandleCommand)
	port.RegisterHandler(messenger.Filter{
		Commands:     []string{"cancel"},
		ContentTypes: []messenger.ContentType{messenger.ContentText, messenger.ContentVoice, messenger.ContentPhoto},
	}, p.HandleEvent)
}

type intent int

const (
	intentIgnore intent = iota
	intentContent
	intentConfirm
	intentEdit
	intentCancel
	intentUnknownCommand
)

func classify(ev messenger.Event) intent {
	if ev.ContentType == messenger.ContentVoice {
		return intentContent
	}
	switch {
	case ev.Command == "cancel":
		return intentCancel
	case slices.Contains(infoCommands, ev.Command):
		return intentIgnore
	case ev.Command != "":
		return intentUnknownCommand
	}
	word := strings.ToLower(strings.TrimSpace(strings.Trim(ev.Text, " .!")))
	switch {
	case word == ActionConfirm || slices.Contains(confirmWords, word):
		return intentConfirm
	case word == ActionEdit || slices.Contains(editWords, word):
		return intentEdit
	case word == ActionCancel || slices.Contains(cancelWords, word):
		return intentCancel
	}
	return intentContent
}

// HandleEvent processes one inbound event to completion. Events for the
// same identity are serialized; others proceed in parallel. Recoverable
// failures become a reply to the user; the returned error is for
// delivery failures and cancellation.
func (p *Pipeline) HandleEvent(ctx context.Context, port messenger.Port, ev messenger.Event) error {
	in := classify(ev)
	if in == intentIgnore {
		return nil
	}
	if in == intentUnknownCommand {
		return p.reply(ctx, port, ev.Identity, textUnknownCommand, nil)
	}
	if ev.ContentType == messenger.ContentPhoto {
		return p.reply(ctx, port, ev.Identity, textPhoto, nil)
	}

	lease, err := p.sessions.Acquire(ctx, ev.Identity)
	if err != nil {
		return err
	}
	defer lease.Release()

	if lease.Expired != nil {
		p.onExpired(ctx, port, lease.Expired)
	}
	s := lease.Session
	if s.UserName == "" {
		s.UserName = ev.UserName
	}

	switch in {
	case intentConfirm:
		return p.confirm(ctx, port, s)
	case intentEdit:
		return p.edit(ctx, port, s)
	case intentCancel:
		return p.cancel(ctx, port, s)
	default:
		return p.content(ctx, port, s, ev)
	}
}

func (p *Pipeline) sessionLog(s *Session) *logger.Logger {
	return p.log.With(
		"platform", s.Identity.Platform,
		"user_id", s.Identity.UserID,
		"chat_id", s.Identity.ChatID,
		"session_id", s.ID,
		"state", s.State().String(),
	)
}

func (p *Pipeline) move(s *Session, to State) {
	from := s.State()
	s.transition(to, p.now())
	p.metrics.Transition(from.String(), to.String())
}

func (p *Pipeline) content(ctx context.Context, port messenger.Port, s *Session, ev messenger.Event) error {
	if ev.ContentType == messenger.ContentText && strings.TrimSpace(ev.Text) == "" {
		return p.reply(ctx, port, s.Identity, textEmpty, nil)
	}
	log := p.sessionLog(s)
	snap := s.snapshot()
	first := s.State() == Idle

	if s.State() == AwaitingConfirmation {
		// New input on a finished draft is a correction.
		p.move(s, AwaitingClarification)
		s.setDraft(report.Draft{})
	}

	var transcript string
	if ev.ContentType == messenger.ContentVoice {
		p.move(s, Processing)
		if err := p.reply(ctx, port, s.Identity, textVoiceAck, nil); err != nil {
			log.Warn("intake: ack not delivered", "error", err)
		}
		data, err := port.DownloadMedia(ctx, ev.MediaRef)
		if err != nil {
			p.rollback(s, snap)
			log.Warn("intake: media unavailable", "media_ref", ev.MediaRef, "error", err)
			return p.reply(ctx, port, s.Identity, textMediaFailed, nil)
		}
		transcript, err = p.transcriber.Transcribe(ctx, transcription.Audio{Data: data, MimeType: ev.MimeType}, p.language)
		if err != nil {
			return p.gatewayFailed(ctx, port, s, snap, "transcribe", err)
		}
	} else {
		transcript = strings.TrimSpace(ev.Text)
		p.move(s, Processing)
	}

	var (
		res extraction.Result
		err error
	)
	if first {
		res, err = p.extractor.Extract(ctx, transcript)
	} else {
		res, err = p.extractor.Merge(ctx, s.PartialData(), transcript)
	}
	if err != nil {
		return p.gatewayFailed(ctx, port, s, snap, "extract", err)
	}

	now := p.now()
	s.appendTranscript(transcript, now)

	if res.Malformed() {
		log.Warn("intake: extraction malformed", "reason", res.Error, "turn", s.Turns())
		// A correction that could not be read leaves the earlier data
		// intact; if that is still a full report, offer it again.
		if draft, ok := p.redraft(s); ok {
			return p.reply(ctx, port, s.Identity, textCorrectionUnclear+draftText(draft), ConfirmKeyboard())
		}
		p.move(s, AwaitingClarification)
		return p.reply(ctx, port, s.Identity, textMalformed, nil)
	}

	s.setPartial(res.Fields)
	if res.Complete {
		draft, derr := report.NewDraft(p.fields, res.Fields, now)
		if derr == nil {
			s.setDraft(draft)
			p.move(s, AwaitingConfirmation)
			log.Info("intake: draft ready", "turn", s.Turns())
			return p.reply(ctx, port, s.Identity, draftText(draft), ConfirmKeyboard())
		}
		log.Warn("intake: complete result failed draft check", "error", derr)
	}

	missing := s.MissingFields(p.fields)
	p.move(s, AwaitingClarification)
	log.Info("intake: clarification requested", "missing", missing, "turn", s.Turns())
	return p.reply(ctx, port, s.Identity, clarificationText(missing), nil)
}

// redraft builds a draft from the session's partial data when it already
// holds every required field, and moves the session to AwaitingConfirmation.
func (p *Pipeline) redraft(s *Session) (report.Draft, bool) {
	if len(s.MissingFields(p.fields)) > 0 {
		return report.Draft{}, false
	}
	draft, err := report.NewDraft(p.fields, s.PartialData(), p.now())
	if err != nil {
		return report.Draft{}, false
	}
	if s.State() != Processing {
		p.move(s, Processing)
	}
	s.setDraft(draft)
	p.move(s, AwaitingConfirmation)
	return draft, true
}

// gatewayFailed restores the pre-event session and tells the user.
func (p *Pipeline) gatewayFailed(ctx context.Context, port messenger.Port, s *Session, snap snapshot, op string, err error) error {
	p.rollback(s, snap)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	p.sessionLog(s).Warn("intake: gateway failed", "op", op, "error", err)
	return p.reply(ctx, port, s.Identity, failureText(err), nil)
}

func (p *Pipeline) rollback(s *Session, snap snapshot) {
	from := s.State()
	s.rollback(snap, p.now())
	p.metrics.Transition(from.String(), snap.state.String())
}

func (p *Pipeline) confirm(ctx context.Context, port messenger.Port, s *Session) error {
	if s.State() != AwaitingConfirmation {
		if s.State() == AwaitingClarification {
			if draft, ok := p.redraft(s); ok {
				return p.reply(ctx, port, s.Identity, draftText(draft), ConfirmKeyboard())
			}
			if missing := s.MissingFields(p.fields); len(missing) > 0 {
				return p.reply(ctx, port, s.Identity, fmt.Sprintf(textStillMissing, labels(missing)), nil)
			}
			return p.reply(ctx, port, s.Identity, textMalformed, nil)
		}
		return p.reply(ctx, port, s.Identity, textNothingToSave, nil)
	}
	log := p.sessionLog(s)
	draft, _ := s.Draft()
	id, err := p.sink.Create(ctx, Submission{
		SessionID:   s.ID,
		Identity:    s.Identity,
		UserName:    s.UserName,
		Draft:       draft,
		Transcripts: s.Transcripts(),
	})
	if err != nil {
		log.Error("intake: report not stored", "error", err)
		return p.reply(ctx, port, s.Identity, textStorageFailed, ConfirmKeyboard())
	}

	p.closeSession(ctx, s, OutcomeConfirmed, id)
	p.metrics.ReportSaved(s.Identity.Platform)
	log.Info("intake: report stored", "report_id", id)
	return p.reply(ctx, port, s.Identity, fmt.Sprintf(textSaved, id), nil)
}

func (p *Pipeline) edit(ctx context.Context, port messenger.Port, s *Session) error {
	draft, ok := s.Draft()
	if s.State() != AwaitingConfirmation || !ok {
		return p.reply(ctx, port, s.Identity, textNothingToEdit, nil)
	}
	p.move(s, AwaitingClarification)
	s.setDraft(report.Draft{})
	s.touch(p.now())
	return p.reply(ctx, port, s.Identity, fmt.Sprintf(textEditPrompt, draft.Summary()), nil)
}

func (p *Pipeline) cancel(ctx context.Context, port messenger.Port, s *Session) error {
	if s.Fresh() {
		return p.reply(ctx, port, s.Identity, textNothingToCancel, nil)
	}
	p.closeSession(ctx, s, OutcomeCancelled, 0)
	p.sessionLog(s).Info("intake: session cancelled")
	return p.reply(ctx, port, s.Identity, textCancelled, nil)
}

func (p *Pipeline) closeSession(ctx context.Context, s *Session, outcome string, reportID uint) {
	from := s.State()
	s.close(outcome, reportID, p.now())
	p.metrics.Transition(from.String(), Closed.String())
	p.record(ctx, s)
}

func (p *Pipeline) record(ctx context.Context, s *Session) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordSession(ctx, s.Summary()); err != nil {
		p.sessionLog(s).Warn("intake: session audit not recorded", "error", err)
	}
}

// Expired handles a session the janitor closed: it records the session and
// tells the user the draft is gone. The notice goes through the port the
// session's platform was attached with.
func (p *Pipeline) Expired(ctx context.Context, s *Session) {
	p.mu.RLock()
	port := p.ports[s.Identity.Platform]
	p.mu.RUnlock()
	if port == nil {
		p.record(ctx, s)
		return
	}
	p.onExpired(ctx, port, s)
}

func (p *Pipeline) onExpired(ctx context.Context, port messenger.Port, s *Session) {
	p.record(ctx, s)
	if s.Turns() == 0 {
		return
	}
	if err := p.reply(ctx, port, s.Identity, textExpired, nil); err != nil {
		p.sessionLog(s).Warn("intake: expiry notice not delivered", "error", err)
	}
}

func (p *Pipeline) reply(ctx context.Context, port messenger.Port, id messenger.Identity, text string, kb *messenger.Keyboard) error {
	if _, err := port.Send(ctx, id.ChatID, text, kb); err != nil {
		p.metrics.DeliveryFailed(port.Platform())
		p.log.Warn("intake: reply not delivered",
			"platform", id.Platform,
			"user_id", id.UserID,
			"chat_id", id.ChatID,
			"error", err,
		)
		return fmt.Errorf("intake: reply: %w", err)
	}
	return nil
}
