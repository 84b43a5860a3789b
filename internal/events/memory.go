package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/pkg/errors"
	"github.com/Aidin1998/relayex/pkg/metrics"
)

// MemorySink keeps the most recent messages in a ring and forwards new ones
// to live subscribers.
type MemorySink struct {
	mu   sync.RWMutex
	ring []Message
	next int
	full bool

	subs   map[*subscriber]struct{}
	subsMu sync.Mutex
}

type subscriber struct {
	ch chan Message
}

var _ ledger.EventSink = (*MemorySink)(nil)

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemorySink{ring: make([]Message, capacity), subs: make(map[*subscriber]struct{})}
}

func (s *MemorySink) Publish(_ context.Context, r *ledger.Receipt) error {
	msgs, err := Messages(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, m := range msgs {
		s.ring[s.next] = m
		s.next = (s.next + 1) % len(s.ring)
		if s.next == 0 {
			s.full = true
		}
	}
	s.mu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		for _, m := range msgs {
			select {
			case sub.ch <- m:
			default:
				// slow subscriber
				metrics.StreamDropped.Inc()
			}
		}
	}
	return nil
}

// Subscribe returns a channel receiving every message published from now
// on. Messages are dropped when the channel's buffer is full. cancel closes
// the channel.
func (s *MemorySink) Subscribe(buffer int) (<-chan Message, func()) {
	sub := &subscriber{ch: make(chan Message, max(buffer, 1))}
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()
	metrics.StreamSubscribers.Inc()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, sub)
			close(sub.ch)
			s.subsMu.Unlock()
			metrics.StreamSubscribers.Dec()
		})
	}
}

// Recent returns up to limit messages, newest first. Only messages named
// name are returned when name is not empty.
func (s *MemorySink) Recent(limit int, name string) []Message {
	if limit <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.next
	if s.full {
		n = len(s.ring)
	}
	out := make([]Message, 0, min(limit, n))
	for i := 0; i < n && len(out) < limit; i++ {
		m := s.ring[(s.next-1-i+len(s.ring))%len(s.ring)]
		if name != "" && m.Name != name {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Fanout publishes to every sink in order. A failing sink does not stop
// the others; the errors are joined.
type Fanout struct {
	sinks  []ledger.EventSink
	logger *zap.Logger
}

func NewFanout(logger *zap.Logger, sinks ...ledger.EventSink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{sinks: sinks, logger: logger}
}

func (f *Fanout) Publish(ctx context.Context, r *ledger.Receipt) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, r); err != nil {
			f.logger.Warn("event sink failed", zap.Uint64("seq", r.Seq), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
