package types

import "time"

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Call is the log record of one telephony call handled by the bridge.
type Call struct {
	ID        string    `json:"call_log_id"`
	StreamID  string    `json:"stream_id"`
	CallID    string    `json:"call_id,omitempty"`
	Provider  string    `json:"provider"`
	StartedAt time.Time `json:"started_at"`
	Status    string    `json:"status"`

	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	BargeIns  int        `json:"barge_ins"`
	ToolCalls int        `json:"tool_calls"`
}

const (
	CallActive = "active"
	CallEnded  = "ended"
)
