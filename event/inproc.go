package event

import (
	"context"
	"sync"
)

// InProcSink fans out events to every currently registered subscriber
// synchronously, in registration order, stopping at the first error. This is
// the default Sink used when no external transport (e.g. the Pulse-backed
// Sink) is configured.
type InProcSink struct {
	mu          sync.RWMutex
	subscribers map[int]func(context.Context, Event) error
	nextID      int
	closed      bool
}

// NewInProcSink constructs an empty in-process sink.
func NewInProcSink() *InProcSink {
	return &InProcSink{subscribers: make(map[int]func(context.Context, Event) error)}
}

// Subscribe registers fn to receive all future events. The returned function
// unregisters fn; it is idempotent and safe to call more than once.
func (s *InProcSink) Subscribe(fn func(context.Context, Event) error) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// Send implements Sink: delivers ev to every subscriber in registration
// order, stopping at the first error.
func (s *InProcSink) Send(ctx context.Context, ev Event) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	fns := make([]func(context.Context, Event) error, 0, len(s.subscribers))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.subscribers[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		if err := fn(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the sink closed; subsequent Send calls are no-ops.
func (s *InProcSink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
