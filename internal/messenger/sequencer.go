package messenger

import (
	"context"
	"sync"
)

// Sequencer runs a function for each submitted event. Events for one
// identity run one at a time, in submission order; different identities run
// in parallel. Adapters submit from their single event-reading goroutine so
// submission order is platform order.
type Sequencer struct {
	run func(ctx context.Context, ev Event)

	mu      sync.Mutex
	pending map[string][]Event // present while a drainer owns the identity
	wg      sync.WaitGroup
}

// NewSequencer creates a Sequencer that hands events to run.
func NewSequencer(run func(ctx context.Context, ev Event)) *Sequencer {
	return &Sequencer{run: run, pending: make(map[string][]Event)}
}

// Submit queues ev behind earlier events of the same identity. It never
// blocks on event processing.
func (s *Sequencer) Submit(ctx context.Context, ev Event) {
	key := ev.Identity.Key()
	s.mu.Lock()
	queue, draining := s.pending[key]
	s.pending[key] = append(queue, ev)
	if !draining {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if !draining {
		go s.drain(ctx, key)
	}
}

func (s *Sequencer) drain(ctx context.Context, key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.pending[key]
		if len(queue) == 0 {
			delete(s.pending, key)
			s.mu.Unlock()
			return
		}
		ev := queue[0]
		queue[0] = Event{}
		s.pending[key] = queue[1:]
		s.mu.Unlock()

		s.run(ctx, ev)
	}
}

// Wait blocks until every submitted event has been processed.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}
