package bridge

import (
	"encoding/json"
	"log"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// observerEvent is one entry of the feed pushed to the observer leg.
type observerEvent struct {
	Type     string    `json:"type"`
	Ts       time.Time `json:"ts"`
	StreamID string    `json:"stream_id,omitempty"`
	Data     any       `json:"data,omitempty"`
}

type observerMessage struct {
	Type    string          `json:"type"`
	Session json.RawMessage `json:"session"`
}

// onObserverOpen attaches the newest observer and closes any previous one.
func (m *Manager) onObserverOpen(in msg) {
	s := m.ensureSession()
	if s.observer == in.leg {
		return
	}
	if old := s.observer; old != nil {
		metricLegsReplaced.WithLabelValues("observer").Inc()
		old.Close("replaced")
	}
	s.observer = in.leg
	_ = in.leg.Send(observerEvent{Type: "session.snapshot", Ts: time.Now().UTC(), StreamID: s.streamID, Data: m.snapshot()})
}

// onObserverFrame stores session.update payloads for inspection. They are
// never applied to the live provider.
func (m *Manager) onObserverFrame(in msg) {
	s := m.sess
	if s == nil || s.observer != in.leg {
		return
	}
	var om observerMessage
	if err := json.Unmarshal(in.data, &om); err != nil {
		metricFramesDropped.WithLabelValues("malformed").Inc()
		return
	}
	switch om.Type {
	case "session.update":
		var raw map[string]any
		if err := json.Unmarshal(om.Session, &raw); err != nil || raw == nil {
			metricFramesDropped.WithLabelValues("malformed").Inc()
			return
		}
		st, err := structpb.NewStruct(raw)
		if err != nil {
			metricFramesDropped.WithLabelValues("malformed").Inc()
			return
		}
		s.pendingSessionConfig = st
		if b, err := protojson.Marshal(st); err == nil {
			log.Printf("[bridge] observer session.update stored: %s", b[:min(200, len(b))])
		}
		m.notify(s, "session.update.stored", map[string]any{"keys": len(raw)})
	}
}

func (m *Manager) onObserverClose(in msg) {
	s := m.sess
	if s == nil || s.observer != in.leg {
		return
	}
	s.observer = nil
	m.maybeDestroy()
}
