package api

import (
    "bytes"
    "context"
    "encoding/json"
    "encoding/xml"
    "fmt"
    "net/http"
    "strings"
    "time"

    "yuzu/voicebridge/internal/bridge"
    "yuzu/voicebridge/internal/config"
    "yuzu/voicebridge/internal/health"
    "yuzu/voicebridge/internal/store"
)

// SessionSource is the part of the bridge the HTTP API reads.
type SessionSource interface {
    Snapshot() bridge.Snapshot
}

// HealthFunc probes the AI backends.
type HealthFunc func(ctx context.Context, cfg config.Config) health.HealthStatus

type Handlers struct {
    cfg     config.Config
    calls   *store.Store
    session SessionSource
    health  HealthFunc
}

func NewHandlers(cfg config.Config, calls *store.Store, session SessionSource, hf HealthFunc) *Handlers {
    if hf == nil {
        hf = health.CheckAll
    }
    return &Handlers{cfg: cfg, calls: calls, session: session, health: hf}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

// HandleReady reports whether the selected provider has credentials. It
// does not call out to the provider; /health/providers does that.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
    missing := ""
    switch h.cfg.Provider.Name {
    case "", "openai":
        if h.cfg.OpenAI.APIKey == "" {
            missing = "OPENAI_API_KEY"
        }
    case "elevenlabs":
        if h.cfg.Eleven.AgentID == "" {
            missing = "ELEVENLABS_AGENT_ID"
        }
    default:
        writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": "unknown provider " + h.cfg.Provider.Name})
        return
    }
    if missing != "" {
        writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": missing + " not set"})
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"ready": true, "provider": h.cfg.Provider.Name})
}

func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handlers) HandleListCalls(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"calls": h.calls.ListCalls()})
}

func (h *Handlers) HandleGetCall(w http.ResponseWriter, r *http.Request, id string) {
    c := h.calls.GetCall(id)
    if c == nil {
        http.NotFound(w, r)
        return
    }
    writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
    if h.calls.GetCall(id) == nil {
        http.NotFound(w, r)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "call_log_id": id,
        "events":      h.calls.ListEvents(id),
    })
}

func (h *Handlers) HandleProviderHealth(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
    defer cancel()
    st := h.health(ctx, h.cfg)
    status := http.StatusOK
    if !st.OK {
        status = http.StatusServiceUnavailable
    }
    writeJSON(w, status, st)
}

// HandleTwiML answers the telephony provider's voice webhook with a
// document that connects the call to the media-stream socket.
func (h *Handlers) HandleTwiML(w http.ResponseWriter, r *http.Request) {
    streamURL, err := h.streamURL(r)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    var esc bytes.Buffer
    _ = xml.EscapeText(&esc, []byte(streamURL))
    w.Header().Set("Content-Type", "text/xml")
    fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="%s"/></Connect></Response>`, esc.String())
}

func (h *Handlers) streamURL(r *http.Request) (string, error) {
    base := h.cfg.Server.PublicURL
    if base == "" {
        if r.Host == "" {
            return "", fmt.Errorf("PUBLIC_URL not set and request has no host")
        }
        base = "https://" + r.Host
    }
    switch {
    case strings.HasPrefix(base, "https://"):
        base = "wss://" + strings.TrimPrefix(base, "https://")
    case strings.HasPrefix(base, "http://"):
        base = "ws://" + strings.TrimPrefix(base, "http://")
    }
    return strings.TrimRight(base, "/") + "/call", nil
}
