package bridge

import (
	"context"
	"log"
	"time"

	"yuzu/voicebridge/internal/provider"
	"yuzu/voicebridge/internal/store"
	"yuzu/voicebridge/internal/telephony"
	"yuzu/voicebridge/internal/tools"
)

const inboxSize = 1024

type msgKind int

const (
	msgTelephonyOpen msgKind = iota
	msgTelephonyFrame
	msgTelephonyClose
	msgObserverOpen
	msgObserverFrame
	msgObserverClose
	msgProviderReady
	msgProviderEvent
	msgProviderGone
	msgFunctionResult
	msgSnapshot
)

// msg is one entry on the loop's inbox. Fields are set according to kind.
type msg struct {
	kind msgKind

	leg  Leg
	data []byte

	prov  provider.Provider
	gen   uint64
	err   error
	event provider.Event

	call   provider.FunctionCall
	result tools.Result

	reply chan Snapshot
}

// ProviderFactory builds an unconnected backend from the current configuration.
type ProviderFactory func() (provider.Provider, error)

type ToolDispatcher interface {
	Dispatch(ctx context.Context, name, rawArguments string) tools.Result
}

type Options struct {
	Factory        ProviderFactory
	Tools          ToolDispatcher
	Scope          SessionScope
	Calls          *store.Store
	ConnectTimeout time.Duration
}

// Manager owns the session. All state changes happen on the Run goroutine;
// leg readers, provider forwarders and tool calls only post to the inbox.
type Manager struct {
	factory        ProviderFactory
	tools          ToolDispatcher
	scope          SessionScope
	calls          *store.Store
	connectTimeout time.Duration

	ctx   context.Context
	inbox chan msg
	done  chan struct{}

	handlers      map[msgKind]func(msg)
	frameHandlers map[telephony.Kind]func(*Session, telephony.Frame)
	eventHandlers map[provider.EventKind]func(*Session, provider.Event)

	sess       *Session
	connecting bool
	connectGen uint64
}

type noopScope struct{}

func (noopScope) SetActiveSession(string) {}
func (noopScope) ClearSession(string)     {}
func (noopScope) ClearCart(string)        {}

func New(opts Options) *Manager {
	m := &Manager{
		factory:        opts.Factory,
		tools:          opts.Tools,
		scope:          opts.Scope,
		calls:          opts.Calls,
		connectTimeout: opts.ConnectTimeout,
		ctx:            context.Background(),
		inbox:          make(chan msg, inboxSize),
		done:           make(chan struct{}),
	}
	if m.scope == nil {
		m.scope = noopScope{}
	}
	if m.calls == nil {
		m.calls = store.New()
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = 10 * time.Second
	}
	m.handlers = map[msgKind]func(msg){
		msgTelephonyOpen:  m.onTelephonyOpen,
		msgTelephonyFrame: m.onTelephonyFrame,
		msgTelephonyClose: m.onTelephonyClose,
		msgObserverOpen:   m.onObserverOpen,
		msgObserverFrame:  m.onObserverFrame,
		msgObserverClose:  m.onObserverClose,
		msgProviderReady:  m.onProviderReady,
		msgProviderEvent:  m.onProviderEvent,
		msgProviderGone:   m.onProviderGone,
		msgFunctionResult: m.onFunctionResult,
		msgSnapshot:       m.onSnapshot,
	}
	m.frameHandlers = map[telephony.Kind]func(*Session, telephony.Frame){
		telephony.KindStart: m.onStart,
		telephony.KindMedia: m.onMedia,
		telephony.KindMark:  m.onMark,
		telephony.KindClose: m.onStop,
	}
	m.eventHandlers = map[provider.EventKind]func(*Session, provider.Event){
		provider.EventOpen:          m.onProviderOpen,
		provider.EventAudio:         m.onAudio,
		provider.EventAudioDone:     m.onAudioDone,
		provider.EventSpeechStarted: m.onSpeechStarted,
		provider.EventFunctionCall:  m.onFunctionCall,
		provider.EventError:         m.onProviderError,
		provider.EventClose:         m.onProviderClose,
	}
	return m
}

// Run processes the inbox until ctx is done, then closes every leg.
func (m *Manager) Run(ctx context.Context) error {
	m.ctx = ctx
	defer close(m.done)
	log.Printf("[bridge] manager running")
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case in := <-m.inbox:
			m.handle(in)
		}
	}
}

func (m *Manager) handle(in msg) {
	h, ok := m.handlers[in.kind]
	if !ok {
		log.Printf("[bridge] no handler for message kind %d", in.kind)
		return
	}
	h(in)
}

// post reports false once the loop has stopped.
func (m *Manager) post(in msg) bool {
	select {
	case m.inbox <- in:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) TelephonyOpened(leg Leg) { m.post(msg{kind: msgTelephonyOpen, leg: leg}) }

func (m *Manager) TelephonyMessage(leg Leg, data []byte) {
	m.post(msg{kind: msgTelephonyFrame, leg: leg, data: data})
}

func (m *Manager) TelephonyClosed(leg Leg) { m.post(msg{kind: msgTelephonyClose, leg: leg}) }

func (m *Manager) ObserverOpened(leg Leg) { m.post(msg{kind: msgObserverOpen, leg: leg}) }

func (m *Manager) ObserverMessage(leg Leg, data []byte) {
	m.post(msg{kind: msgObserverFrame, leg: leg, data: data})
}

func (m *Manager) ObserverClosed(leg Leg) { m.post(msg{kind: msgObserverClose, leg: leg}) }

// Snapshot asks the loop for a copy of the session state.
func (m *Manager) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !m.post(msg{kind: msgSnapshot, reply: reply}) {
		return Snapshot{}
	}
	select {
	case s := <-reply:
		return s
	case <-m.done:
		return Snapshot{}
	}
}

func (m *Manager) onSnapshot(in msg) { in.reply <- m.snapshot() }

func (m *Manager) snapshot() Snapshot {
	s := m.sess
	if s == nil {
		return Snapshot{Connecting: m.connecting}
	}
	snap := Snapshot{
		Active:           true,
		SessionID:        s.ID,
		StreamID:         s.streamID,
		CallID:           s.callID,
		CallLogID:        s.callLogID,
		Telephony:        s.telephony != nil,
		Observer:         s.observer != nil,
		Provider:         s.provider != nil,
		Connecting:       m.connecting,
		CanTruncate:      s.truncater != nil,
		Speaking:         s.timing.Speaking(),
		LatestMediaMs:    s.timing.LatestMediaMs(),
		LastItemID:       s.timing.ActiveItemID(),
		MarksOutstanding: s.marksOutstanding,
	}
	if s.provider != nil {
		snap.ProviderName = s.provider.Name()
	}
	if start, ok := s.timing.ResponseStartMs(); ok {
		snap.ResponseStartMs = &start
	}
	if s.pendingSessionConfig != nil {
		snap.PendingSessionConfig = s.pendingSessionConfig.AsMap()
	}
	return snap
}

func (m *Manager) ensureSession() *Session {
	if m.sess == nil {
		m.sess = newSession()
		metricSessions.Inc()
		log.Printf("[bridge] session %s created", m.sess.ID)
	}
	return m.sess
}

// maybeDestroy releases the session once every leg is gone.
func (m *Manager) maybeDestroy() {
	s := m.sess
	if s == nil || !s.empty() || m.connecting {
		return
	}
	log.Printf("[bridge] session %s released after %s", s.ID, time.Since(s.startedAt).Round(time.Millisecond))
	metricSessions.Dec()
	m.sess = nil
}

func (m *Manager) shutdown() {
	s := m.sess
	if s == nil {
		return
	}
	tel, obs := s.telephony, s.observer
	m.endCall(s, "shutdown")
	if tel != nil {
		tel.Close("shutdown")
	}
	if obs != nil {
		obs.Close("shutdown")
		s.observer = nil
	}
	m.maybeDestroy()
}

// notify records a call event and forwards it to the observer.
func (m *Manager) notify(s *Session, typ string, data map[string]any) {
	if s.callLogID != "" {
		m.calls.AppendEvent(s.callLogID, typ, data)
	}
	if s.observer != nil {
		ev := observerEvent{Type: typ, Ts: time.Now().UTC(), StreamID: s.streamID}
		if data != nil {
			ev.Data = data
		}
		if err := s.observer.Send(ev); err != nil {
			metricFramesDropped.WithLabelValues("observer_send").Inc()
		}
	}
}
