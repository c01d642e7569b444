package provider

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net/http"
    "net/url"
    "sync"
    "time"

    "github.com/google/uuid"
    "nhooyr.io/websocket"

    "yuzu/voicebridge/internal/tools"
)

const (
    defaultOpenAIURL   = "wss://api.openai.com/v1/realtime"
    defaultOpenAIModel = "gpt-4o-realtime-preview-2024-12-17"
)

// OpenAI is a connection to the OpenAI Realtime API speaking g711 mu-law in
// both directions, with server-side VAD.
type OpenAI struct {
    stream

    cfg Config
    url string

    mu     sync.Mutex // guards ctx, cancel and ws between Connect and Close
    ctx    context.Context
    cancel context.CancelFunc
    ws     *websocket.Conn

    truncMu   sync.Mutex
    truncated string // item whose in-flight deltas are dropped after a truncate
}

func NewOpenAI(cfg Config) *OpenAI {
    base := cfg.URL
    if base == "" {
        base = defaultOpenAIURL
    }
    q := url.Values{}
    q.Set("model", orDefault(cfg.Model, defaultOpenAIModel))
    return &OpenAI{
        stream: newStream("openai"),
        cfg:    cfg,
        url:    base + "?" + q.Encode(),
    }
}

type oaToolDef struct {
    Type        string         `json:"type"`
    Name        string         `json:"name"`
    Description string         `json:"description,omitempty"`
    Parameters  map[string]any `json:"parameters,omitempty"`
}

type oaSession struct {
    Modalities              []string       `json:"modalities"`
    Instructions            string         `json:"instructions,omitempty"`
    Voice                   string         `json:"voice,omitempty"`
    InputAudioFormat        string         `json:"input_audio_format"`
    OutputAudioFormat       string         `json:"output_audio_format"`
    InputAudioTranscription map[string]any `json:"input_audio_transcription,omitempty"`
    TurnDetection           map[string]any `json:"turn_detection"`
    Tools                   []oaToolDef    `json:"tools,omitempty"`
    ToolChoice              string         `json:"tool_choice,omitempty"`
}

type oaCommand struct {
    EventID    string         `json:"event_id,omitempty"`
    Type       string         `json:"type"`
    Session    *oaSession     `json:"session,omitempty"`
    Audio      string         `json:"audio,omitempty"`
    Item       map[string]any `json:"item,omitempty"`
    ItemID     string         `json:"item_id,omitempty"`
    ContentIdx *int           `json:"content_index,omitempty"`
    AudioEndMs *int64         `json:"audio_end_ms,omitempty"`
}

type oaEvent struct {
    Type   string `json:"type"`
    Delta  string `json:"delta"`
    ItemID string `json:"item_id"`
    Item   *struct {
        Type      string `json:"type"`
        Name      string `json:"name"`
        Arguments string `json:"arguments"`
        CallID    string `json:"call_id"`
    } `json:"item"`
    Error *struct {
        Type    string `json:"type"`
        Code    string `json:"code"`
        Message string `json:"message"`
    } `json:"error"`
}

func eventID() string { return "evt_" + uuid.NewString() }

func (o *OpenAI) sessionUpdate() oaCommand {
    s := &oaSession{
        Modalities:              []string{"text", "audio"},
        Instructions:            o.cfg.Instructions,
        Voice:                   o.cfg.Voice,
        InputAudioFormat:        "g711_ulaw",
        OutputAudioFormat:       "g711_ulaw",
        InputAudioTranscription: map[string]any{"model": "whisper-1"},
        TurnDetection:           map[string]any{"type": "server_vad"},
    }
    for _, d := range o.cfg.Tools {
        s.Tools = append(s.Tools, oaToolDef{Type: "function", Name: d.Name, Description: d.Description, Parameters: d.Parameters})
    }
    if len(s.Tools) > 0 {
        s.ToolChoice = "auto"
    }
    return oaCommand{EventID: eventID(), Type: "session.update", Session: s}
}

// Connect dials and sends the session handshake. It does not retry.
func (o *OpenAI) Connect(ctx context.Context) error {
    if o.closed() {
        return ErrNotConnected
    }
    hdr := make(http.Header)
    hdr.Set("Authorization", "Bearer "+o.cfg.APIKey)
    hdr.Set("OpenAI-Beta", "realtime=v1")
    start := time.Now()
    log.Printf("[openai] connecting to %s (apiKey len=%d)", o.url, len(o.cfg.APIKey))
    ws, _, err := websocket.Dial(ctx, o.url, &websocket.DialOptions{HTTPHeader: hdr})
    if err != nil {
        log.Printf("[openai] connect error: %v", err)
        metricConnects.WithLabelValues(o.name, "error").Inc()
        return fmt.Errorf("openai: dial: %w", err)
    }
    ws.SetReadLimit(maxFrameBytes)

    b, err := json.Marshal(o.sessionUpdate())
    if err != nil {
        _ = ws.Close(websocket.StatusInternalError, "encode")
        return err
    }
    if err := ws.Write(ctx, websocket.MessageText, b); err != nil {
        _ = ws.Close(websocket.StatusInternalError, "handshake")
        metricConnects.WithLabelValues(o.name, "error").Inc()
        return fmt.Errorf("openai: session.update: %w", err)
    }
    log.Printf("[openai] connected in %dms", time.Since(start).Milliseconds())
    metricConnects.WithLabelValues(o.name, "ok").Inc()
    metricConnectMS.WithLabelValues(o.name).Observe(float64(time.Since(start).Milliseconds()))

    o.mu.Lock()
    if o.closed() {
        o.mu.Unlock()
        _ = ws.Close(websocket.StatusNormalClosure, "closed during connect")
        return ErrNotConnected
    }
    o.ctx, o.cancel = context.WithCancel(context.Background())
    o.ws = ws
    o.connected.Store(true)
    o.mu.Unlock()
    go o.writeLoop()
    go o.readLoop()
    return nil
}

func (o *OpenAI) writeLoop() {
    for {
        select {
        case <-o.ctx.Done():
            return
        case b := <-o.sendQ:
            wctx, cancel := context.WithTimeout(o.ctx, writeTimeout)
            err := o.ws.Write(wctx, websocket.MessageText, b)
            cancel()
            if err != nil {
                log.Printf("[openai] write error: %v", err)
                return
            }
        }
    }
}

func (o *OpenAI) readLoop() {
    defer close(o.events)
    defer o.cancel()
    o.emit(Event{Kind: EventOpen})
    for {
        _, data, err := o.ws.Read(o.ctx)
        if err != nil {
            o.connected.Store(false)
            code := int(websocket.CloseStatus(err))
            if !o.closed() {
                log.Printf("[openai] read ended: %v", err)
            }
            o.emit(Event{Kind: EventClose, Code: code, Reason: err.Error()})
            return
        }
        var ev oaEvent
        if err := json.Unmarshal(data, &ev); err != nil {
            log.Printf("[openai] JSON parse error: %v, data: %s", err, string(data[:min(200, len(data))]))
            continue
        }
        o.dispatch(ev)
    }
}

func (o *OpenAI) dispatch(ev oaEvent) {
    switch ev.Type {
    case "response.audio.delta":
        if ev.Delta == "" {
            return
        }
        if o.isTruncated(ev.ItemID) {
            metricAudioSuppressed.Inc()
            return
        }
        o.emit(Event{Kind: EventAudio, Payload: ev.Delta, ItemID: ev.ItemID})
    case "response.audio.done":
        o.emit(Event{Kind: EventAudioDone, ItemID: ev.ItemID})
    case "input_audio_buffer.speech_started":
        o.emit(Event{Kind: EventSpeechStarted})
    case "response.output_item.done":
        if ev.Item != nil && ev.Item.Type == "function_call" {
            o.emit(Event{Kind: EventFunctionCall, Call: &FunctionCall{
                Name:      ev.Item.Name,
                Arguments: ev.Item.Arguments,
                CallID:    ev.Item.CallID,
            }})
        }
    case "error":
        re := &RemoteError{Provider: o.name, Message: "provider_error"}
        if ev.Error != nil {
            re.Type, re.Code = ev.Error.Type, ev.Error.Code
            if ev.Error.Message != "" {
                re.Message = ev.Error.Message
            }
        }
        log.Printf("[openai] %v", re)
        o.emit(Event{Kind: EventError, Err: re})
    case "session.created", "session.updated":
        log.Printf("[openai] %s", ev.Type)
    }
}

// SendAudio forwards one base64 mu-law chunk. It is a no-op before Connect.
func (o *OpenAI) SendAudio(payload string) error {
    return o.enqueueAudio(oaCommand{Type: "input_audio_buffer.append", Audio: payload})
}

func (o *OpenAI) SendFunctionResponse(name, callID string, res tools.Result) error {
    item := map[string]any{
        "type":    "function_call_output",
        "call_id": callID,
        "output":  string(res.Payload),
    }
    return o.enqueueControl(
        oaCommand{EventID: eventID(), Type: "conversation.item.create", Item: item},
        oaCommand{EventID: eventID(), Type: "response.create"},
    )
}

func (o *OpenAI) Interrupt() error {
    return o.enqueueControl(oaCommand{EventID: eventID(), Type: "response.cancel"})
}

// Truncate drops the unheard tail of itemID from the conversation.
func (o *OpenAI) Truncate(itemID string, elapsedMs int64) error {
    o.truncMu.Lock()
    o.truncated = itemID
    o.truncMu.Unlock()
    idx := 0
    return o.enqueueControl(oaCommand{
        EventID:    eventID(),
        Type:       "conversation.item.truncate",
        ItemID:     itemID,
        ContentIdx: &idx,
        AudioEndMs: &elapsedMs,
    })
}

func (o *OpenAI) isTruncated(itemID string) bool {
    if itemID == "" {
        return false
    }
    o.truncMu.Lock()
    defer o.truncMu.Unlock()
    return itemID == o.truncated
}

// Close does not wait for the peer to answer the close handshake.
func (o *OpenAI) Close() error {
    if !o.shutdown() {
        return nil
    }
    o.mu.Lock()
    ws, cancel := o.ws, o.cancel
    o.mu.Unlock()
    if ws == nil {
        return nil
    }
    cancel()
    go func() { _ = ws.Close(websocket.StatusNormalClosure, "bye") }()
    return nil
}

func orDefault(s, def string) string {
    if s == "" {
        return def
    }
    return s
}
