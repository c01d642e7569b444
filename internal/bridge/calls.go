package bridge

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"yuzu/voicebridge/internal/provider"
	"yuzu/voicebridge/internal/telephony"
	"yuzu/voicebridge/internal/types"
)

// onTelephonyOpen attaches a new call leg. A previous leg is closed first so
// there is never more than one call.
func (m *Manager) onTelephonyOpen(in msg) {
	s := m.ensureSession()
	if s.telephony == in.leg {
		return
	}
	if old := s.telephony; old != nil {
		log.Printf("[bridge] replacing telephony leg stream=%s", s.streamID)
		metricLegsReplaced.WithLabelValues("telephony").Inc()
		m.endCall(s, "replaced")
		old.Close("replaced")
	}
	s.telephony = in.leg
}

func (m *Manager) onTelephonyFrame(in msg) {
	s := m.sess
	if s == nil || s.telephony != in.leg {
		metricFramesDropped.WithLabelValues("stale_leg").Inc()
		return
	}
	f, err := telephony.Parse(in.data)
	if err != nil {
		metricFramesDropped.WithLabelValues("malformed").Inc()
		log.Printf("[bridge] dropping telephony frame: %v", err)
		return
	}
	if h, ok := m.frameHandlers[f.Kind]; ok {
		h(s, f)
	}
}

// onTelephonyClose is safe to repeat; closes from replaced legs are ignored.
func (m *Manager) onTelephonyClose(in msg) {
	s := m.sess
	if s == nil || s.telephony != in.leg {
		return
	}
	m.endCall(s, "hangup")
	m.maybeDestroy()
}

func (m *Manager) onStart(s *Session, f telephony.Frame) {
	if s.callLogID != "" {
		log.Printf("[bridge] start on a live leg, restarting call stream=%s", s.streamID)
		m.closeProvider(s)
		_ = m.calls.EndCall(s.callLogID, "restarted", time.Now())
		s.resetCallState()
	}
	s.streamID = f.StreamID
	s.callID = f.CallID
	s.timing.Reset()

	m.scope.ClearSession(f.StreamID)
	m.scope.ClearCart(f.StreamID)
	m.scope.SetActiveSession(f.StreamID)

	id := uuid.NewString()
	if err := m.calls.CreateCall(&types.Call{
		ID:        id,
		StreamID:  f.StreamID,
		CallID:    f.CallID,
		StartedAt: time.Now().UTC(),
	}); err == nil {
		s.callLogID = id
	}
	metricCalls.Inc()
	log.Printf("[bridge] call started stream=%s call=%s encoding=%s", f.StreamID, f.CallID, f.Encoding)
	m.notify(s, "call.started", map[string]any{"stream_id": f.StreamID, "call_id": f.CallID})
	m.startProvider(s)
}

func (m *Manager) onMedia(s *Session, f telephony.Frame) {
	s.timing.ObserveMedia(f.Timestamp)
	p := s.provider
	if p == nil || !p.IsConnected() {
		return
	}
	if err := p.SendAudio(f.Payload); err != nil {
		metricFramesDropped.WithLabelValues("provider_send").Inc()
	}
}

// onMark counts playback acknowledgements for the current utterance. Mark
// names are "<utterance>:<seq>", so acks for cleared audio are ignored.
func (m *Manager) onMark(s *Session, f telephony.Frame) {
	gen, _, ok := strings.Cut(f.MarkName, ":")
	if ok && gen == strconv.Itoa(s.utterance) && s.marksOutstanding > 0 {
		s.marksOutstanding--
	}
	m.maybeEndUtterance(s)
}

func (m *Manager) onStop(s *Session, _ telephony.Frame) {
	leg := s.telephony
	m.endCall(s, "stop")
	leg.Close("stop")
	m.maybeDestroy()
}

// endCall tears down provider and timing for the active call and detaches
// the telephony leg. The observer stays attached.
func (m *Manager) endCall(s *Session, reason string) {
	m.closeProvider(s)
	if s.callLogID != "" {
		_ = m.calls.EndCall(s.callLogID, reason, time.Now())
		log.Printf("[bridge] call ended stream=%s reason=%s", s.streamID, reason)
		m.notify(s, "call.ended", map[string]any{"reason": reason})
	}
	s.telephony = nil
	s.resetCallState()
}

func (m *Manager) closeProvider(s *Session) {
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			log.Printf("[bridge] provider close: %v", err)
		}
		s.provider = nil
		s.truncater = nil
	}
	if m.connecting {
		// the in-flight attempt is closed when its result arrives
		m.connectGen++
		m.connecting = false
	}
}

// startProvider begins a connection attempt unless one is live or pending.
func (m *Manager) startProvider(s *Session) {
	if s.provider != nil || m.connecting {
		return
	}
	if m.factory == nil {
		log.Printf("[bridge] no provider factory configured")
		return
	}
	p, err := m.factory()
	if err != nil {
		log.Printf("[bridge] provider unavailable: %v", err)
		metricProviderFailures.WithLabelValues("config").Inc()
		m.notify(s, "provider.failed", map[string]any{"error": err.Error()})
		return
	}
	m.connecting = true
	m.connectGen++
	gen, parent, timeout := m.connectGen, m.ctx, m.connectTimeout
	go func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		err := p.Connect(ctx)
		if !m.post(msg{kind: msgProviderReady, prov: p, gen: gen, err: err}) {
			_ = p.Close()
		}
	}()
}

func (m *Manager) onProviderReady(in msg) {
	p := in.prov
	if in.gen != m.connectGen {
		log.Printf("[bridge] closing superseded %s connection", p.Name())
		_ = p.Close()
		return
	}
	m.connecting = false
	s := m.sess
	if in.err != nil {
		log.Printf("[bridge] %s connect failed: %v", p.Name(), in.err)
		metricProviderFailures.WithLabelValues("connect").Inc()
		_ = p.Close()
		if s != nil {
			m.notify(s, "provider.failed", map[string]any{"provider": p.Name(), "error": in.err.Error()})
		}
		m.maybeDestroy()
		return
	}
	if s == nil || s.telephony == nil {
		_ = p.Close()
		m.maybeDestroy()
		return
	}
	s.provider = p
	s.truncater, _ = p.(provider.Truncater)
	if s.callLogID != "" {
		_ = m.calls.Update(s.callLogID, func(c *types.Call) { c.Provider = p.Name() })
	}
	log.Printf("[bridge] %s connected stream=%s truncate=%t", p.Name(), s.streamID, s.truncater != nil)
	m.notify(s, "provider.connected", map[string]any{"provider": p.Name(), "can_truncate": s.truncater != nil})
	go m.forward(p)
}

// forward moves one provider's events onto the inbox, in order.
func (m *Manager) forward(p provider.Provider) {
	for ev := range p.Events() {
		if !m.post(msg{kind: msgProviderEvent, prov: p, event: ev}) {
			_ = p.Close()
			return
		}
	}
	m.post(msg{kind: msgProviderGone, prov: p})
}
