package bridge

import (
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"yuzu/voicebridge/internal/auth"
)

// Handler exposes the telephony and observer websocket endpoints.
type Handler struct {
	m *Manager

	ObserverSecret   string
	ObserverSkewSecs int
}

func NewHandler(m *Manager, observerSecret string, skewSecs int) *Handler {
	return &Handler{m: m, ObserverSecret: observerSecret, ObserverSkewSecs: skewSecs}
}

// HandleCall serves the media-stream socket of one call.
func (h *Handler) HandleCall(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("[bridge] telephony accept: %v", err)
		return
	}
	leg := newWSLeg(r.Context(), "telephony", c)
	log.Printf("[bridge] telephony connected from %s", r.RemoteAddr)
	h.m.TelephonyOpened(leg)
	leg.readLoop(func(data []byte) { h.m.TelephonyMessage(leg, data) })
	h.m.TelephonyClosed(leg)
	leg.Close("done")
}

// HandleObserver serves the monitoring socket. When a secret is configured
// the observer must present a signed token.
func (h *Handler) HandleObserver(w http.ResponseWriter, r *http.Request) {
	if h.ObserverSecret != "" {
		if _, _, err := auth.ValidateObserverToken(h.ObserverSecret, auth.FromRequest(r), time.Now(), h.ObserverSkewSecs); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("[bridge] observer accept: %v", err)
		return
	}
	leg := newWSLeg(r.Context(), "observer", c)
	log.Printf("[bridge] observer connected from %s", r.RemoteAddr)
	h.m.ObserverOpened(leg)
	leg.readLoop(func(data []byte) { h.m.ObserverMessage(leg, data) })
	h.m.ObserverClosed(leg)
	leg.Close("done")
}
