package messenger

import (
	"context"
	"slices"
	"sync"

	"github.com/cooldog631-ai/aim-bot/internal/logger"
)

// Filter selects the events a handler receives. A handler with Commands
// matches a command event naming one of them; failing that, a handler with
// ContentTypes matches events of those types. A zero Filter matches
// everything.
type Filter struct {
	ContentTypes []ContentType
	Commands     []string
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	if len(f.Commands) == 0 && len(f.ContentTypes) == 0 {
		return true
	}
	if len(f.Commands) > 0 && ev.Command != "" && slices.Contains(f.Commands, ev.Command) {
		return true
	}
	if len(f.ContentTypes) > 0 && slices.Contains(f.ContentTypes, ev.ContentType) {
		return true
	}
	return false
}

type registration struct {
	filter  Filter
	handler Handler
}

// Dispatcher holds the ordered handler list for one port. Adapters embed it
// to implement RegisterHandler and call Dispatch for every inbound event.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []registration
	log      *logger.Logger
}

// NewDispatcher creates an empty dispatcher. A nil log discards output.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{log: log}
}

// RegisterHandler appends a handler.
func (d *Dispatcher) RegisterHandler(f Filter, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, registration{filter: f, handler: h})
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dispatch invokes every matching handler in registration order. A failing
// handler is logged and does not stop the ones after it. It returns the
// number of handlers invoked.
func (d *Dispatcher) Dispatch(ctx context.Context, port Port, ev Event) int {
	d.mu.RLock()
	regs := make([]registration, len(d.handlers))
	copy(regs, d.handlers)
	d.mu.RUnlock()

	fired := 0
	for i, r := range regs {
		if !r.filter.Match(ev) {
			continue
		}
		fired++
		if err := r.handler(ctx, port, ev); err != nil {
			d.log.Warn("messenger: handler failed",
				"handler", i,
				"platform", ev.Identity.Platform,
				"chat_id", ev.Identity.ChatID,
				"event_id", ev.ID,
				"error", err,
			)
		}
	}
	if fired == 0 {
		d.log.Debug("messenger: no handler matched",
			"platform", ev.Identity.Platform,
			"content_type", ev.ContentType,
			"command", ev.Command,
		)
	}
	return fired
}
