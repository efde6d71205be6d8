package gateway

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

var contextIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

type WebSocketHandler struct {
	connectionManager *ConnectionManager
	store             sharedstore.Store
}

func NewWebSocketHandler(cm *ConnectionManager, store sharedstore.Store) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		store:             store,
	}
}

// HandleSignals attaches a browser context. A request without context_id
// gets a generated one.
func (h *WebSocketHandler) HandleSignals(w http.ResponseWriter, r *http.Request) {
	contextID := r.URL.Query().Get("context_id")
	if contextID == "" {
		contextID = "browser-" + uuid.New().String()[:8]
	}
	if !contextIDPattern.MatchString(contextID) {
		http.Error(w, "invalid context_id format", http.StatusBadRequest)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, contextID); err != nil {
		log.Warn().
			Err(err).
			Str("context_id", contextID).
			Msg("failed to attach browser context")
	}
}

func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// HandleState lists every key in the shared store, for debugging walls.
func (h *WebSocketHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.store.(sharedstore.Lister)
	if !ok {
		http.Error(w, "store cannot list keys", http.StatusNotImplemented)
		return
	}
	entries, err := lister.Entries(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list store entries")
		http.Error(w, "failed to list store entries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
