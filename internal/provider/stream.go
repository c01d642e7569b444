package provider

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	eventBuffer   = 256
	sendBuffer    = 128
	controlWait   = 2 * time.Second
	writeTimeout  = 5 * time.Second
	maxFrameBytes = 4 << 20
)

// stream is the socket-independent half of a backend connection: the bounded
// outbound queue, the event channel and the connected/closed state.
type stream struct {
	name string

	sendQ  chan []byte
	events chan Event
	quit   chan struct{}

	connected atomic.Bool
	closeOnce sync.Once
}

func newStream(name string) stream {
	return stream{
		name:   name,
		sendQ:  make(chan []byte, sendBuffer),
		events: make(chan Event, eventBuffer),
		quit:   make(chan struct{}),
	}
}

func (s *stream) Name() string         { return s.name }
func (s *stream) IsConnected() bool    { return s.connected.Load() }
func (s *stream) Events() <-chan Event { return s.events }

// emit preserves order; once the connection is closed by us pending events
// may be discarded.
func (s *stream) emit(e Event) {
	metricEvents.WithLabelValues(s.name, e.Kind.String()).Inc()
	select {
	case s.events <- e:
	case <-s.quit:
	}
}

// audio is dropped rather than blocking the caller.
func (s *stream) enqueueAudio(v any) error {
	if !s.connected.Load() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.sendQ <- b:
		return nil
	default:
		metricSendDrops.WithLabelValues(s.name).Inc()
		return ErrSendQueueFull
	}
}

// control commands wait briefly for queue space.
func (s *stream) enqueueControl(v ...any) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	for _, m := range v {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		t := time.NewTimer(controlWait)
		select {
		case s.sendQ <- b:
			t.Stop()
		case <-s.quit:
			t.Stop()
			return ErrNotConnected
		case <-t.C:
			metricSendDrops.WithLabelValues(s.name).Inc()
			return ErrSendQueueFull
		}
	}
	return nil
}

// shutdown marks the stream closed; it reports whether this call did it.
func (s *stream) shutdown() bool {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.connected.Store(false)
		close(s.quit)
	})
	return first
}

func (s *stream) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}
