package intake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/metrics"
)

// DefaultSessionTimeout closes conversations idle for an hour.
const DefaultSessionTimeout = time.Hour

// slot serializes all work for one identity. sem holds one token while a
// Lease is out; active is the identity's open session, if any. active is
// only written by the token holder with m.mu held, so m.mu alone is enough
// to read it.
type slot struct {
	sem    chan struct{}
	active *Session
	refs   int
}

// ManagerOpts holds parameters for creating a SessionManager.
type ManagerOpts struct {
	Timeout   time.Duration // inactivity limit, defaults to DefaultSessionTimeout
	Retention time.Duration // how long closed sessions are kept
	Now       func() time.Time
	Log       *logger.Logger
	Metrics   *metrics.Metrics
}

// SessionManager owns every open session, at most one per identity. Work
// for one identity is serialized through that identity's slot; different
// identities never wait on each other beyond the brief map lookup.
type SessionManager struct {
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
	log       *logger.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	slots   map[string]*slot
	retired []*Session
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(opts ManagerOpts) *SessionManager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSessionTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &SessionManager{
		timeout:   opts.Timeout,
		retention: opts.Retention,
		now:       opts.Now,
		log:       opts.Log,
		metrics:   opts.Metrics,
		slots:     make(map[string]*slot),
	}
}

// Lease is exclusive access to one identity's session. Release it exactly
// once.
type Lease struct {
	Session *Session
	// Expired is the previous session, when Acquire found it timed out and
	// closed it before starting Session.
	Expired *Session

	m        *SessionManager
	key      string
	slot     *slot
	released bool
}

// Acquire waits for exclusive access to id and returns its open session,
// creating an Idle one when there is none. An open session past the
// inactivity timeout is expired first and reported in Lease.Expired.
func (m *SessionManager) Acquire(ctx context.Context, id messenger.Identity) (*Lease, error) {
	key := id.Key()

	m.mu.Lock()
	sl, ok := m.slots[key]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		m.slots[key] = sl
	}
	sl.refs++
	m.mu.Unlock()

	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		m.mu.Lock()
		sl.refs--
		m.dropIfUnused(key, sl)
		m.mu.Unlock()
		return nil, fmt.Errorf("intake: acquire session %s: %w", key, ctx.Err())
	}

	now := m.now()
	lease := &Lease{m: m, key: key, slot: sl}
	m.mu.Lock()
	if s := sl.active; s != nil && m.idleTooLong(s, now) {
		m.expire(sl, now)
		lease.Expired = s
	}
	if sl.active == nil {
		sl.active = newSession(id, now)
		m.log.Debug("intake: session created", "session_id", sl.active.ID, "identity", key)
	}
	lease.Session = sl.active
	m.mu.Unlock()
	m.reportActive()
	return lease, nil
}

// Release gives up the lease. A closed session is retired; a session that
// never took input is dropped.
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	m := l.m

	m.mu.Lock()
	if s := l.slot.active; s != nil {
		switch {
		case s.State() == Closed:
			l.slot.active = nil
			if m.retention > 0 {
				m.retired = append(m.retired, s)
			}
		case s.Fresh():
			l.slot.active = nil
		}
	}
	l.slot.refs--
	m.dropIfUnused(l.key, l.slot)
	m.mu.Unlock()

	<-l.slot.sem
	m.reportActive()
}

// Expire closes the leased session as timed out, discarding its partial
// data.
func (m *SessionManager) Expire(l *Lease) {
	if l.Session.State() == Closed {
		return
	}
	m.mu.Lock()
	m.expire(l.slot, m.now())
	m.mu.Unlock()
}

// expire closes the slot's active session. Caller holds the slot's token
// and m.mu.
func (m *SessionManager) expire(sl *slot, now time.Time) {
	s := sl.active
	from := s.State()
	s.close(OutcomeExpired, 0, now)
	m.log.Info("intake: session expired",
		"session_id", s.ID,
		"platform", s.Identity.Platform,
		"user_id", s.Identity.UserID,
		"chat_id", s.Identity.ChatID,
		"idle", now.Sub(s.LastActivityAt),
	)
	m.metrics.Transition(from.String(), Closed.String())
	sl.active = nil
	if m.retention > 0 {
		m.retired = append(m.retired, s)
	}
}

func (m *SessionManager) idleTooLong(s *Session, now time.Time) bool {
	return now.Sub(s.LastActivityAt) > m.timeout
}

// dropIfUnused removes an empty slot. Caller holds m.mu.
func (m *SessionManager) dropIfUnused(key string, sl *slot) {
	if sl.refs == 0 && sl.active == nil && m.slots[key] == sl {
		delete(m.slots, key)
	}
}

// Sweep expires idle sessions and forgets closed sessions older than the
// retention window. Busy identities are skipped until the next sweep. It
// returns the sessions it expired.
func (m *SessionManager) Sweep() []*Session {
	now := m.now()

	m.mu.Lock()
	keys := make([]string, 0, len(m.slots))
	for k := range m.slots {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	var expired []*Session
	for _, key := range keys {
		m.mu.Lock()
		sl, ok := m.slots[key]
		if ok {
			sl.refs++
		}
		m.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case sl.sem <- struct{}{}:
			m.mu.Lock()
			if s := sl.active; s != nil && s.State() != Closed && m.idleTooLong(s, now) {
				m.expire(sl, now)
				expired = append(expired, s)
			}
			m.mu.Unlock()
			<-sl.sem
		default:
		}

		m.mu.Lock()
		sl.refs--
		m.dropIfUnused(key, sl)
		m.mu.Unlock()
	}

	m.mu.Lock()
	kept := m.retired[:0]
	for _, s := range m.retired {
		if now.Sub(s.ClosedAt) <= m.retention {
			kept = append(kept, s)
		}
	}
	clear(m.retired[len(kept):])
	m.retired = kept
	m.mu.Unlock()

	m.reportActive()
	return expired
}

// Run sweeps every interval until ctx is cancelled, passing each expired
// session to onExpire.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration, onExpire func(*Session)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, s := range m.Sweep() {
				if onExpire != nil {
					onExpire(s)
				}
			}
		}
	}
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sl := range m.slots {
		if sl.active != nil {
			n++
		}
	}
	return n
}

// Retired returns the number of closed sessions still retained.
func (m *SessionManager) Retired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retired)
}

func (m *SessionManager) reportActive() {
	if m.metrics != nil {
		m.metrics.ActiveSessions(m.Count())
	}
}
