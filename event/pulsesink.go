package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// PulseSink publishes Events to a Pulse/Redis stream per session, so
// multiple transport connections (including across processes sharing the
// same Redis) can subscribe to a session's event history. Grounded on the
// envelope-wrapping pattern of the teacher's Pulse-backed stream sink.
type PulseSink struct {
	redis  *redis.Client
	maxLen int

	mu      sync.Mutex
	streams map[string]*streaming.Stream
}

// NewPulseSink constructs a Sink backed by the given Redis client. maxLen
// bounds the number of entries kept per session stream; zero uses Pulse's
// defaults.
func NewPulseSink(redisClient *redis.Client, maxLen int) *PulseSink {
	return &PulseSink{
		redis:   redisClient,
		maxLen:  maxLen,
		streams: make(map[string]*streaming.Stream),
	}
}

func (s *PulseSink) streamFor(name string) (*streaming.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if str, ok := s.streams[name]; ok {
		return str, nil
	}
	var opts []streamopts.Stream
	if s.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(s.maxLen))
	}
	str, err := streaming.NewStream(name, s.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	s.streams[name] = str
	return str, nil
}

// Send implements Sink: publishes ev, JSON-encoded, to the
// "session/<SessionID>" Pulse stream.
func (s *PulseSink) Send(ctx context.Context, ev Event) error {
	if ev.SessionID == "" {
		return errors.New("event missing session id")
	}
	str, err := s.streamFor("session/" + ev.SessionID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = str.Add(ctx, string(ev.Type), payload)
	return err
}

// Close destroys no streams (Redis retains them); it releases local handles only.
func (s *PulseSink) Close(context.Context) error {
	s.mu.Lock()
	s.streams = make(map[string]*streaming.Stream)
	s.mu.Unlock()
	return nil
}
