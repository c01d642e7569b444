// Package bridge relays one live call between the telephony leg and an AI
// backend, with an optional observer leg watching.
package bridge

import (
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"yuzu/voicebridge/internal/floor"
	"yuzu/voicebridge/internal/provider"
)

// Leg is one websocket peer. Send must not block; Close is idempotent.
type Leg interface {
	Send(v any) error
	Close(reason string)
}

// SessionScope is the business state the bridge re-keys at call start.
type SessionScope interface {
	SetActiveSession(streamID string)
	ClearSession(streamID string)
	ClearCart(streamID string)
}

// Session is the state of the current call. Only the Manager loop touches it.
type Session struct {
	ID        string
	startedAt time.Time

	telephony Leg
	observer  Leg
	provider  provider.Provider
	truncater provider.Truncater // resolved once when the provider attaches

	streamID  string
	callID    string
	callLogID string

	timing           *floor.Manager
	utterance        int // bumped on every Idle to Speaking transition
	markSeq          int
	marksOutstanding int
	audioDone        bool

	pendingSessionConfig *structpb.Struct
}

func newSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		startedAt: time.Now(),
		timing:    floor.New(),
	}
}

func (s *Session) empty() bool {
	return s.telephony == nil && s.observer == nil && s.provider == nil
}

// resetCallState clears everything tied to the active call, keeping the
// observer leg and its stored config.
func (s *Session) resetCallState() {
	s.provider = nil
	s.truncater = nil
	s.streamID = ""
	s.callID = ""
	s.callLogID = ""
	s.timing.Reset()
	s.marksOutstanding = 0
	s.markSeq = 0
	s.audioDone = false
}

// endUtterance clears playback bookkeeping after a natural end or barge-in.
func (s *Session) endUtterance() {
	s.marksOutstanding = 0
	s.markSeq = 0
	s.audioDone = false
}

// Snapshot is a point-in-time copy of session state.
type Snapshot struct {
	Active    bool   `json:"active"`
	SessionID string `json:"session_id,omitempty"`
	StreamID  string `json:"stream_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	CallLogID string `json:"call_log_id,omitempty"`

	Telephony    bool   `json:"telephony"`
	Observer     bool   `json:"observer"`
	Provider     bool   `json:"provider"`
	ProviderName string `json:"provider_name,omitempty"`
	Connecting   bool   `json:"connecting"`
	CanTruncate  bool   `json:"can_truncate"`

	Speaking         bool   `json:"speaking"`
	LatestMediaMs    int64  `json:"latest_media_ms"`
	ResponseStartMs  *int64 `json:"response_start_ms,omitempty"`
	LastItemID       string `json:"last_item_id,omitempty"`
	MarksOutstanding int    `json:"marks_outstanding"`

	PendingSessionConfig map[string]any `json:"pending_session_config,omitempty"`
}
