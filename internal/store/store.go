package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"yuzu/voicebridge/internal/types"
)

var (
	ErrCallExists = errors.New("call already exists")
	ErrNoCall     = errors.New("call not found")
)

const (
	maxEvents = 200
	maxCalls  = 100
)

// Store is the in-memory call log. Nothing survives a restart.
type Store struct {
    mu     sync.RWMutex
    calls  map[string]*types.Call
    order  []string
    events map[string][]types.Event
}

func New() *Store {
    return &Store{
        calls:  make(map[string]*types.Call),
        events: make(map[string][]types.Event),
    }
}

func (s *Store) CreateCall(c *types.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; ok {
		return ErrCallExists
	}
	if c.Status == "" {
		c.Status = types.CallActive
	}
	s.calls[c.ID] = c
	s.events[c.ID] = []types.Event{}
	s.order = append(s.order, c.ID)
	// Evict the oldest finished calls beyond the retention cap
	for len(s.order) > maxCalls {
		oldest := s.order[0]
		if oc := s.calls[oldest]; oc != nil && oc.Status == types.CallActive {
			break
		}
		s.order = s.order[1:]
		delete(s.calls, oldest)
		delete(s.events, oldest)
	}
	return nil
}

// GetCall returns a copy of the record, or nil.
func (s *Store) GetCall(id string) *types.Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Update applies fn to the record under the write lock.
func (s *Store) Update(id string, fn func(c *types.Call)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return ErrNoCall
	}
	fn(c)
	return nil
}

// EndCall marks the call ended. Ending an ended call keeps the first reason.
func (s *Store) EndCall(id, reason string, at time.Time) error {
	return s.Update(id, func(c *types.Call) {
		if c.Status == types.CallEnded {
			return
		}
		at = at.UTC()
		c.Status = types.CallEnded
		c.EndedAt = &at
		c.EndReason = reason
	})
}

func (s *Store) AppendEvent(callID, typ string, payload map[string]any) types.Event {
    evt := types.Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, ok := s.calls[callID]; !ok {
        return evt
    }
    s.events[callID] = append(s.events[callID], evt)
    // Cap total events per call; one slot is reserved for the truncation warning
    if l := len(s.events[callID]); l > maxEvents {
        keep := maxEvents - 1
        dropped := l - keep
        s.events[callID] = append([]types.Event(nil), s.events[callID][l-keep:]...)
        warn := types.Event{Type: "events_truncated", Ts: time.Now().UTC(), Payload: map[string]any{"call_log_id": callID, "dropped": dropped, "kept": keep}}
        s.events[callID] = append(s.events[callID], warn)
    }
    return evt
}

func (s *Store) ListEvents(callID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[callID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// ListCalls returns copies of the retained calls, newest first.
func (s *Store) ListCalls() []types.Call {
    s.mu.RLock()
    defer s.mu.RUnlock()
    out := make([]types.Call, 0, len(s.calls))
    for _, c := range s.calls {
        out = append(out, *c)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
    return out
}
