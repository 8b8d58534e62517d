package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/doodlegame/doodle/go/internal/events"
	"github.com/doodlegame/doodle/go/internal/store"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler serves the relay's HTTP surface.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	history           HistoryStore
}

func NewWebSocketHandler(cm *ConnectionManager, history HistoryStore) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm, history: history}
}

// HandleConnection upgrades to a websocket. Rooms are chosen by the join message.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		// the upgrader has already written an error response
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
	}
}

func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats, err := h.connectionManager.GetStats(ctx)
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleHistory mirrors get_history for clients without a websocket.
func (h *WebSocketHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("displayName")
	if name == "" {
		http.Error(w, "displayName is required", http.StatusBadRequest)
		return
	}

	records, err := h.history.HistoryByDisplayName(r.Context(), name)
	if errors.Is(err, store.ErrIdentityNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("display_name", name).Msg("failed to load history")
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, events.HistoryResultPayload{
		Type:        events.TypeHistoryResult,
		DisplayName: name,
		History:     HistoryEntries(records),
	})
}

func (h *WebSocketHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Debug().Err(err).Msg("failed to write health response")
	}
}

// RegisterRoutes registers the relay routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/api/history", h.HandleHistory)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write JSON response")
	}
}
