package intake

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/report"
)

// Close reasons.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeCancelled = "cancelled"
	OutcomeExpired   = "expired"
)

// Session is one report conversation for one identity. Only the holder of
// the identity's Lease may read or change it while it is open; once Closed
// it never changes again.
type Session struct {
	ID       string
	Identity messenger.Identity
	UserName string

	state       State
	partial     report.Fields
	transcripts []string
	draft       report.Draft
	turns       int
	outcome     string
	reportID    uint

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
	ClosedAt       time.Time
}

func newSession(id messenger.Identity, now time.Time) *Session {
	return &Session{
		ID:             uuid.NewString(),
		Identity:       id,
		state:          Idle,
		partial:        report.Fields{},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
}

func (s *Session) State() State { return s.state }

// PartialData returns a copy of the fields gathered so far.
func (s *Session) PartialData() report.Fields { return s.partial.Clone() }

// MissingFields is always derived from the partial data, never stored.
func (s *Session) MissingFields(set report.FieldSet) []string { return set.Missing(s.partial) }

// Transcripts returns a copy of the transcript history, oldest first.
func (s *Session) Transcripts() []string { return slices.Clone(s.transcripts) }

// Draft returns the draft awaiting confirmation, if any.
func (s *Session) Draft() (report.Draft, bool) { return s.draft, !s.draft.IsZero() }

// Turns counts user inputs that reached the extractor.
func (s *Session) Turns() int { return s.turns }

// Outcome is why the session closed; empty while open.
func (s *Session) Outcome() string { return s.outcome }

// ReportID is the stored report's id for a confirmed session.
func (s *Session) ReportID() uint { return s.reportID }

// Fresh reports whether the session has not taken any input yet.
func (s *Session) Fresh() bool { return s.state == Idle && s.turns == 0 }

func (s *Session) mustBeOpen(op string) {
	if s.state == Closed {
		panic(fmt.Sprintf("intake: invariant violated: %s on closed session %s", op, s.ID))
	}
}

func (s *Session) touch(now time.Time) {
	s.UpdatedAt = now
	s.LastActivityAt = now
}

// transition moves along the state graph. Any other move is a programming
// error.
func (s *Session) transition(to State, now time.Time) {
	if !CanTransition(s.state, to) {
		panic(fmt.Sprintf("intake: invariant violated: transition %s -> %s (session %s)", s.state, to, s.ID))
	}
	s.state = to
	s.UpdatedAt = now
}

func (s *Session) appendTranscript(t string, now time.Time) {
	s.mustBeOpen("append transcript")
	s.transcripts = append(s.transcripts, t)
	s.turns++
	s.touch(now)
}

func (s *Session) setPartial(f report.Fields) {
	s.mustBeOpen("set partial data")
	s.partial = f.Clone()
}

func (s *Session) setDraft(d report.Draft) {
	s.mustBeOpen("set draft")
	s.draft = d
}

func (s *Session) close(outcome string, reportID uint, now time.Time) {
	s.transition(Closed, now)
	s.outcome = outcome
	s.reportID = reportID
	s.partial = report.Fields{}
	s.draft = report.Draft{}
	s.ClosedAt = now
}

// snapshot captures what a failed event must restore.
type snapshot struct {
	state   State
	partial report.Fields
	draft   report.Draft
}

func (s *Session) snapshot() snapshot {
	return snapshot{state: s.state, partial: s.partial.Clone(), draft: s.draft}
}

// rollback returns a Processing session to its pre-event snapshot.
func (s *Session) rollback(snap snapshot, now time.Time) {
	s.transition(snap.state, now)
	s.partial = snap.partial
	s.draft = snap.draft
}

// Summary describes a closed session for the audit trail.
type Summary struct {
	SessionID   string
	Identity    messenger.Identity
	UserName    string
	Outcome     string
	Turns       int
	Transcripts []string
	ReportID    uint
	CreatedAt   time.Time
	ClosedAt    time.Time
}

// Summary builds the audit record of the session.
func (s *Session) Summary() Summary {
	return Summary{
		SessionID:   s.ID,
		Identity:    s.Identity,
		UserName:    s.UserName,
		Outcome:     s.outcome,
		Turns:       s.turns,
		Transcripts: s.Transcripts(),
		ReportID:    s.reportID,
		CreatedAt:   s.CreatedAt,
		ClosedAt:    s.ClosedAt,
	}
}
