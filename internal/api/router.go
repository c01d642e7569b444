package api

import (
	"net/http"
	"strings"
)

func NewRouter(h *Handlers) http.Handler {
    mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", h.HandleReady)
	mux.HandleFunc("/health/providers", h.HandleProviderHealth)

	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.HandleSession(w, r)
	})

	mux.HandleFunc("/twiml", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.HandleTwiML(w, r)
	})

	mux.HandleFunc("/calls", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.HandleListCalls(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

    mux.HandleFunc("/calls/", func(w http.ResponseWriter, r *http.Request) {
		// /calls/{id} | /calls/{id}/events
		path := strings.TrimSuffix(r.URL.Path, "/")
		const prefix = "/calls/"
		if !strings.HasPrefix(path, prefix) {
			http.NotFound(w, r)
			return
		}
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		id := parts[0]
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }

        switch {
        case tail == "" && len(parts) == 1:
            h.HandleGetCall(w, r, id)
        case tail == "events" && len(parts) == 2:
            h.HandleListEvents(w, r, id)
        default:
            http.NotFound(w, r)
        }
    })

    return mux
}
