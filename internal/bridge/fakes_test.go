package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"yuzu/voicebridge/internal/provider"
	"yuzu/voicebridge/internal/telephony"
	"yuzu/voicebridge/internal/tools"
)

type fakeLeg struct {
	mu      sync.Mutex
	frames  []any
	closes  int
	reasons []string
}

func (l *fakeLeg) Send(v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, v)
	return nil
}

func (l *fakeLeg) Close(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	l.reasons = append(l.reasons, reason)
}

func (l *fakeLeg) outbound() []telephony.Outbound {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []telephony.Outbound
	for _, f := range l.frames {
		if o, ok := f.(telephony.Outbound); ok {
			out = append(out, o)
		}
	}
	return out
}

func (l *fakeLeg) feed() []observerEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []observerEvent
	for _, f := range l.frames {
		if e, ok := f.(observerEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

func (l *fakeLeg) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

type truncation struct {
	itemID    string
	elapsedMs int64
}

type sentResult struct {
	name, callID string
	res          tools.Result
}

type fakeProvider struct {
	name       string
	connectErr error
	events     chan provider.Event

	mu         sync.Mutex
	connected  bool
	closeCalls int
	audio      []string
	interrupts int
	truncates  []truncation
	results    []sentResult
	closeOnce  sync.Once
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{name: "fake", events: make(chan provider.Event, 64)}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected = true
	return nil
}

func (p *fakeProvider) SendAudio(payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		p.audio = append(p.audio, payload)
	}
	return nil
}

func (p *fakeProvider) SendFunctionResponse(name, callID string, res tools.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, sentResult{name: name, callID: callID, res: res})
	return nil
}

func (p *fakeProvider) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupts++
	return nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	p.closeCalls++
	p.connected = false
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.events) })
	return nil
}

func (p *fakeProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakeProvider) Events() <-chan provider.Event { return p.events }

type providerState struct {
	connected  bool
	closeCalls int
	audio      []string
	interrupts int
	truncates  []truncation
	results    []sentResult
}

func (p *fakeProvider) state() providerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return providerState{
		connected:  p.connected,
		closeCalls: p.closeCalls,
		audio:      append([]string(nil), p.audio...),
		interrupts: p.interrupts,
		truncates:  append([]truncation(nil), p.truncates...),
		results:    append([]sentResult(nil), p.results...),
	}
}

// truncatingProvider adds the optional truncate capability.
type truncatingProvider struct {
	*fakeProvider
}

func (p truncatingProvider) Truncate(itemID string, elapsedMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.truncates = append(p.truncates, truncation{itemID: itemID, elapsedMs: elapsedMs})
	return nil
}

type fakeScope struct {
	mu     sync.Mutex
	calls  []string
	active string
}

func (s *fakeScope) SetActiveSession(id string) { s.record("active:" + id); s.active = id }
func (s *fakeScope) ClearSession(id string)     { s.record("clear_session:" + id) }
func (s *fakeScope) ClearCart(id string)        { s.record("clear_cart:" + id) }

func (s *fakeScope) record(c string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

// gatedTools blocks every dispatch until release is closed and records the
// stream id seen by the handler.
type gatedTools struct {
	release chan struct{}

	mu      sync.Mutex
	streams []string
}

func (g *gatedTools) Dispatch(ctx context.Context, name, raw string) tools.Result {
	if g.release != nil {
		<-g.release
	}
	id, _ := tools.StreamIDFromContext(ctx)
	g.mu.Lock()
	g.streams = append(g.streams, id)
	g.mu.Unlock()
	return tools.Result{Payload: []byte(`{"ok":true,"name":"` + name + `"}`)}
}

// step handles exactly one queued message.
func step(t *testing.T, m *Manager) msgKind {
	t.Helper()
	select {
	case in := <-m.inbox:
		m.handle(in)
		return in.kind
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a loop message")
	}
	return -1
}

// stepUntil handles messages until one of kind has been handled.
func stepUntil(t *testing.T, m *Manager, kind msgKind) {
	t.Helper()
	for i := 0; i < 32; i++ {
		if step(t, m) == kind {
			return
		}
	}
	t.Fatalf("message kind %d never arrived", kind)
}

func frame(s string) []byte { return []byte(s) }
