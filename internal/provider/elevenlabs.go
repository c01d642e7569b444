package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"yuzu/voicebridge/internal/tools"
)

const (
	defaultElevenURL  = "wss://api.elevenlabs.io/v1/convai/conversation"
	handshakeDeadline = 10 * time.Second
)

// ElevenLabs is a connection to an ElevenLabs Conversational AI agent. Tools
// are configured on the agent as client tools; the backend cannot truncate.
type ElevenLabs struct {
	stream

	cfg Config
	url string

	mu   sync.Mutex
	ws   *websocket.Conn
	done chan struct{}

	conversationID string

	// audio chunks with an event id at or below suppressUpTo belong to an
	// interrupted response and are discarded.
	lastAudioID  atomic.Int64
	suppressUpTo atomic.Int64
}

func NewElevenLabs(cfg Config) *ElevenLabs {
	base := cfg.URL
	if base == "" {
		base = defaultElevenURL
	}
	q := url.Values{}
	q.Set("agent_id", cfg.AgentID)
	return &ElevenLabs{
		stream: newStream("elevenlabs"),
		cfg:    cfg,
		url:    base + "?" + q.Encode(),
		done:   make(chan struct{}),
	}
}

type elInit struct {
	Type     string         `json:"type"`
	Override map[string]any `json:"conversation_config_override,omitempty"`
}

type elAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type elToolResult struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
}

type elPong struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

type elEvent struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID    string `json:"conversation_id"`
		AgentOutputFormat string `json:"agent_output_audio_format"`
		UserInputFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event"`

	Audio *struct {
		Audio   string `json:"audio_base_64"`
		EventID int64  `json:"event_id"`
	} `json:"audio_event"`

	Interruption *struct {
		EventID int64 `json:"event_id"`
	} `json:"interruption_event"`

	ToolCall *struct {
		ToolName   string          `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"client_tool_call"`

	Ping *struct {
		EventID int64 `json:"event_id"`
	} `json:"ping_event"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event"`

	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ElevenLabs) initiation() elInit {
	agent := map[string]any{}
	if e.cfg.Instructions != "" {
		agent["prompt"] = map[string]any{"prompt": e.cfg.Instructions}
	}
	override := map[string]any{}
	if len(agent) > 0 {
		override["agent"] = agent
	}
	if e.cfg.Voice != "" {
		override["tts"] = map[string]any{"voice_id": e.cfg.Voice}
	}
	m := elInit{Type: "conversation_initiation_client_data"}
	if len(override) > 0 {
		m.Override = override
	}
	return m
}

// Connect dials, sends the initiation data and waits for the conversation
// metadata before reporting success.
func (e *ElevenLabs) Connect(ctx context.Context) error {
	if e.closed() {
		return ErrNotConnected
	}
	hdr := http.Header{}
	if e.cfg.APIKey != "" {
		hdr.Set("xi-api-key", e.cfg.APIKey)
	}
	start := time.Now()
	log.Printf("[elevenlabs] connecting to %s", e.url)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, e.url, hdr)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		log.Printf("[elevenlabs] connect error: %v", err)
		metricConnects.WithLabelValues(e.name, "error").Inc()
		return fmt.Errorf("elevenlabs: dial: %w", err)
	}
	ws.SetReadLimit(maxFrameBytes)

	if err := e.handshake(ctx, ws); err != nil {
		_ = ws.Close()
		metricConnects.WithLabelValues(e.name, "error").Inc()
		return err
	}
	log.Printf("[elevenlabs] connected in %dms conversation=%s", time.Since(start).Milliseconds(), e.conversationID)
	metricConnects.WithLabelValues(e.name, "ok").Inc()
	metricConnectMS.WithLabelValues(e.name).Observe(float64(time.Since(start).Milliseconds()))

	e.mu.Lock()
	if e.closed() {
		e.mu.Unlock()
		_ = ws.Close()
		return ErrNotConnected
	}
	e.ws = ws
	e.connected.Store(true)
	e.mu.Unlock()
	go e.writeLoop()
	go e.readLoop()
	return nil
}

func (e *ElevenLabs) handshake(ctx context.Context, ws *websocket.Conn) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeDeadline)
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(e.initiation()); err != nil {
		return fmt.Errorf("elevenlabs: initiation: %w", err)
	}
	_ = ws.SetReadDeadline(deadline)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("elevenlabs: awaiting metadata: %w", err)
		}
		var ev elEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type == "error" {
			return &RemoteError{Provider: e.name, Code: ev.Code, Message: ev.Message}
		}
		if ev.Type == "conversation_initiation_metadata" {
			if ev.Metadata != nil {
				e.conversationID = ev.Metadata.ConversationID
				if f := ev.Metadata.AgentOutputFormat; f != "" && f != "ulaw_8000" {
					log.Printf("[elevenlabs] agent output format is %s, telephony expects ulaw_8000", f)
				}
			}
			break
		}
	}
	_ = ws.SetReadDeadline(time.Time{})
	_ = ws.SetWriteDeadline(time.Time{})
	return nil
}

func (e *ElevenLabs) writeLoop() {
	for {
		select {
		case <-e.quit:
			return
		case <-e.done:
			return
		case b := <-e.sendQ:
			_ = e.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := e.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Printf("[elevenlabs] write error: %v", err)
				return
			}
		}
	}
}

func (e *ElevenLabs) readLoop() {
	defer close(e.events)
	defer close(e.done)
	e.emit(Event{Kind: EventOpen})
	for {
		_, data, err := e.ws.ReadMessage()
		if err != nil {
			e.connected.Store(false)
			code := -1
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			if !e.closed() {
				log.Printf("[elevenlabs] read ended: %v", err)
			}
			e.emit(Event{Kind: EventClose, Code: code, Reason: err.Error()})
			return
		}
		var ev elEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[elevenlabs] JSON parse error: %v, data: %s", err, string(data[:min(200, len(data))]))
			continue
		}
		e.dispatch(ev)
	}
}

func (e *ElevenLabs) dispatch(ev elEvent) {
	switch ev.Type {
	case "audio":
		if ev.Audio == nil || ev.Audio.Audio == "" {
			return
		}
		if ev.Audio.EventID <= e.suppressUpTo.Load() {
			metricAudioSuppressed.Inc()
			return
		}
		e.lastAudioID.Store(ev.Audio.EventID)
		e.emit(Event{Kind: EventAudio, Payload: ev.Audio.Audio, ItemID: strconv.FormatInt(ev.Audio.EventID, 10)})
	case "agent_response":
		e.emit(Event{Kind: EventAudioDone})
	case "interruption":
		if ev.Interruption != nil {
			e.suppress(ev.Interruption.EventID)
		}
		e.emit(Event{Kind: EventSpeechStarted})
	case "client_tool_call":
		if ev.ToolCall == nil {
			return
		}
		args := string(ev.ToolCall.Parameters)
		if args == "null" {
			args = ""
		}
		e.emit(Event{Kind: EventFunctionCall, Call: &FunctionCall{
			Name:      ev.ToolCall.ToolName,
			Arguments: args,
			CallID:    ev.ToolCall.ToolCallID,
		}})
	case "ping":
		if ev.Ping != nil {
			if err := e.enqueueControl(elPong{Type: "pong", EventID: ev.Ping.EventID}); err != nil {
				log.Printf("[elevenlabs] pong: %v", err)
			}
		}
	case "error":
		re := &RemoteError{Provider: e.name, Code: ev.Code, Message: orDefault(ev.Message, "provider_error")}
		log.Printf("[elevenlabs] %v", re)
		e.emit(Event{Kind: EventError, Err: re})
	}
}

func (e *ElevenLabs) suppress(id int64) {
	for {
		cur := e.suppressUpTo.Load()
		if id <= cur || e.suppressUpTo.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (e *ElevenLabs) SendAudio(payload string) error {
	return e.enqueueAudio(elAudioChunk{UserAudioChunk: payload})
}

func (e *ElevenLabs) SendFunctionResponse(name, callID string, res tools.Result) error {
	return e.enqueueControl(elToolResult{
		Type:       "client_tool_result",
		ToolCallID: callID,
		Result:     string(res.Payload),
		IsError:    res.Failed,
	})
}

// Interrupt discards the rest of the response currently being received. The
// agent stops generating on its own once its VAD hears the caller.
func (e *ElevenLabs) Interrupt() error {
	if !e.connected.Load() {
		return ErrNotConnected
	}
	e.suppress(e.lastAudioID.Load())
	return nil
}

func (e *ElevenLabs) Close() error {
	if !e.shutdown() {
		return nil
	}
	e.mu.Lock()
	ws := e.ws
	e.mu.Unlock()
	if ws == nil {
		return nil
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	return ws.Close()
}
