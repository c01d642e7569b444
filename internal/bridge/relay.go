package bridge

import (
	"fmt"
	"log"

	"yuzu/voicebridge/internal/provider"
	"yuzu/voicebridge/internal/telephony"
	"yuzu/voicebridge/internal/tools"
	"yuzu/voicebridge/internal/types"
)

// onProviderEvent drops events from any provider other than the attached one.
func (m *Manager) onProviderEvent(in msg) {
	s := m.sess
	if s == nil || s.provider == nil || s.provider != in.prov {
		return
	}
	if h, ok := m.eventHandlers[in.event.Kind]; ok {
		h(s, in.event)
	}
}

func (m *Manager) onProviderGone(in msg) {
	s := m.sess
	if s == nil || s.provider == nil || s.provider != in.prov {
		return
	}
	m.providerLost(s, "events closed")
}

// providerLost clears the provider reference only; the caller stays on the line.
func (m *Manager) providerLost(s *Session, reason string) {
	p := s.provider
	s.provider = nil
	s.truncater = nil
	_ = p.Close()
	log.Printf("[bridge] %s gone stream=%s: %s", p.Name(), s.streamID, reason)
	metricProviderFailures.WithLabelValues("lost").Inc()
	m.notify(s, "provider.closed", map[string]any{"provider": p.Name(), "reason": reason})
	m.maybeDestroy()
}

func (m *Manager) onProviderOpen(s *Session, _ provider.Event) {
	m.notify(s, "provider.open", nil)
}

// onAudio relays one assistant chunk followed by a mark so playback can be
// acknowledged.
func (m *Manager) onAudio(s *Session, ev provider.Event) {
	if s.telephony == nil {
		return
	}
	if s.timing.OnAudio(ev.ItemID) {
		s.utterance++
		s.endUtterance()
		start, _ := s.timing.ResponseStartMs()
		m.notify(s, "assistant.speaking", map[string]any{"item_id": ev.ItemID, "response_start_ms": start})
	}
	s.audioDone = false
	if err := s.telephony.Send(telephony.Media(s.streamID, ev.Payload)); err != nil {
		metricFramesDropped.WithLabelValues("telephony_send").Inc()
		return
	}
	metricAudioRelayed.Inc()
	s.markSeq++
	if err := s.telephony.Send(telephony.Mark(s.streamID, fmt.Sprintf("%d:%d", s.utterance, s.markSeq))); err == nil {
		s.marksOutstanding++
	}
}

func (m *Manager) onAudioDone(s *Session, _ provider.Event) {
	s.audioDone = true
	m.maybeEndUtterance(s)
}

// maybeEndUtterance ends the utterance once generation has finished and the
// telephony leg acknowledged every chunk.
func (m *Manager) maybeEndUtterance(s *Session) {
	if !s.timing.Speaking() || !s.audioDone || s.marksOutstanding > 0 {
		return
	}
	s.timing.OnPlaybackDone()
	s.endUtterance()
	m.notify(s, "assistant.done", nil)
}

// onSpeechStarted is barge-in: truncate when the backend can, otherwise
// interrupt once, then flush the telephony leg's buffered audio.
func (m *Manager) onSpeechStarted(s *Session, _ provider.Event) {
	d := s.timing.OnSpeechStarted()
	if !d.ShouldStop {
		return
	}
	mode := "interrupt"
	if s.truncater != nil && d.StopItemID != "" {
		mode = "truncate"
		if err := s.truncater.Truncate(d.StopItemID, d.ElapsedMs); err != nil {
			log.Printf("[bridge] truncate %s: %v", d.StopItemID, err)
		}
	} else if err := s.provider.Interrupt(); err != nil {
		log.Printf("[bridge] interrupt: %v", err)
	}
	if s.telephony != nil {
		if err := s.telephony.Send(telephony.Clear(s.streamID)); err != nil {
			metricFramesDropped.WithLabelValues("telephony_send").Inc()
		}
	}
	s.endUtterance()
	metricBargeIns.WithLabelValues(mode).Inc()
	if s.callLogID != "" {
		_ = m.calls.Update(s.callLogID, func(c *types.Call) { c.BargeIns++ })
	}
	log.Printf("[bridge] barge-in stream=%s mode=%s item=%s elapsed=%dms", s.streamID, mode, d.StopItemID, d.ElapsedMs)
	m.notify(s, "barge_in", map[string]any{"mode": mode, "item_id": d.StopItemID, "elapsed_ms": d.ElapsedMs})
}

// onFunctionCall runs the handler off-loop. Several calls may be in flight.
func (m *Manager) onFunctionCall(s *Session, ev provider.Event) {
	if ev.Call == nil || m.tools == nil {
		return
	}
	call := *ev.Call
	p := s.provider
	ctx := tools.WithStreamID(m.ctx, s.streamID)
	if s.callLogID != "" {
		_ = m.calls.Update(s.callLogID, func(c *types.Call) { c.ToolCalls++ })
	}
	m.notify(s, "function.call", map[string]any{"name": call.Name, "call_id": call.CallID, "arguments": call.Arguments})
	go func() {
		res := m.tools.Dispatch(ctx, call.Name, call.Arguments)
		m.post(msg{kind: msgFunctionResult, prov: p, call: call, result: res})
	}()
}

// onFunctionResult delivers a result only to the provider that asked for it.
func (m *Manager) onFunctionResult(in msg) {
	s := m.sess
	if s == nil || s.provider == nil || s.provider != in.prov {
		metricResultsDropped.Inc()
		log.Printf("[bridge] dropping result of %s call_id=%s: provider gone", in.call.Name, in.call.CallID)
		return
	}
	if err := s.provider.SendFunctionResponse(in.call.Name, in.call.CallID, in.result); err != nil {
		log.Printf("[bridge] send result call_id=%s: %v", in.call.CallID, err)
	}
	m.notify(s, "function.result", map[string]any{
		"name":    in.call.Name,
		"call_id": in.call.CallID,
		"failed":  in.result.Failed,
		"output":  string(in.result.Payload),
	})
}

func (m *Manager) onProviderError(s *Session, ev provider.Event) {
	errText := "unknown"
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	log.Printf("[bridge] %s error: %s", s.provider.Name(), errText)
	m.notify(s, "provider.error", map[string]any{"error": errText})
	if !s.provider.IsConnected() {
		m.providerLost(s, errText)
	}
}

func (m *Manager) onProviderClose(s *Session, ev provider.Event) {
	m.providerLost(s, fmt.Sprintf("closed code=%d %s", ev.Code, ev.Reason))
}
