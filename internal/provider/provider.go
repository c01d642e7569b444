// Package provider wraps realtime AI speech backends behind one connection
// interface with a normalized event and command vocabulary.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"yuzu/voicebridge/internal/tools"
)

var (
	ErrMissingCredentials = errors.New("provider: missing credentials")
	ErrUnknownProvider    = errors.New("provider: unknown backend")
	ErrNotConnected       = errors.New("provider: not connected")
	ErrSendQueueFull      = errors.New("provider: send queue full")
)

type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventAudio
	EventAudioDone
	EventFunctionCall
	EventSpeechStarted
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventAudio:
		return "audio"
	case EventAudioDone:
		return "audio_done"
	case EventFunctionCall:
		return "function_call"
	case EventSpeechStarted:
		return "speech_started"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type FunctionCall struct {
	Name      string
	Arguments string
	CallID    string
}

// Event is one normalized backend event. Fields are set according to Kind.
type Event struct {
	Kind EventKind

	Payload string // audio, base64 in the backend-native encoding
	ItemID  string // audio, may be empty

	Call *FunctionCall

	Err error

	Code   int
	Reason string
}

// Provider is one realtime backend connection. Events is closed after the
// final EventClose.
type Provider interface {
	Name() string
	Connect(ctx context.Context) error
	SendAudio(payload string) error
	SendFunctionResponse(name, callID string, res tools.Result) error
	Interrupt() error
	Close() error
	IsConnected() bool
	Events() <-chan Event
}

// Truncater is implemented by backends that can resynchronize their transcript
// to the audio the caller actually heard.
type Truncater interface {
	Truncate(itemID string, elapsedMs int64) error
}

// RemoteError is an error frame reported by the backend.
type RemoteError struct {
	Provider string
	Type     string
	Code     string
	Message  string
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	} else if e.Type != "" {
		b.WriteString(e.Type)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Config is read once per connection attempt.
type Config struct {
	Name         string
	APIKey       string
	URL          string
	Model        string
	Voice        string
	Instructions string
	AgentID      string
	Tools        []tools.Definition
}

func New(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrMissingCredentials)
		}
		return NewOpenAI(cfg), nil
	case "elevenlabs":
		if cfg.AgentID == "" {
			return nil, fmt.Errorf("%w: ELEVENLABS_AGENT_ID is not set", ErrMissingCredentials)
		}
		return NewElevenLabs(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}
