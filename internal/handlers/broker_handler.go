package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vikasavnish/autotrade/internal/models"
	"github.com/vikasavnish/autotrade/internal/services"
)

const verifyTimeout = 15 * time.Second

// TokenSource is the part of broker.TokenManager the broker routes need.
type TokenSource interface {
	AccessToken(ctx context.Context, forceRefresh bool) (string, error)
	Clear()
	Connected() bool
}

// ConnectionReporter reports the realtime feed connection.
type ConnectionReporter interface {
	Connected() bool
}

// BrokerHandler manages broker credentials and connection status
type BrokerHandler struct {
	credentials services.CredentialService
	tokens      TokenSource
	feed        ConnectionReporter
}

// NewBrokerHandler creates a new broker handler
func NewBrokerHandler(credentials services.CredentialService, tokens TokenSource, feed ConnectionReporter) *BrokerHandler {
	return &BrokerHandler{
		credentials: credentials,
		tokens:      tokens,
		feed:        feed,
	}
}

// RegisterRoutes registers broker routes
func (h *BrokerHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/broker/keys", h.SaveKeys).Methods("PUT")
	router.HandleFunc("/broker/status", h.GetStatus).Methods("GET")
}

// SaveKeys stores new credentials and verifies them with a forced token refresh
func (h *BrokerHandler) SaveKeys(w http.ResponseWriter, r *http.Request) {
	var req models.BrokerKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.credentials.Save(req.AppKey, req.SecretKey); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.tokens.Clear()

	ctx, cancel := context.WithTimeout(r.Context(), verifyTimeout)
	defer cancel()
	if _, err := h.tokens.AccessToken(ctx, true); err != nil {
		log.Printf("Broker credentials saved but token request failed: %v", err)
		http.Error(w, "Credentials saved but the broker rejected them: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.status())
}

// GetStatus reports whether the engine holds a valid token
func (h *BrokerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.status())
}

func (h *BrokerHandler) status() models.BrokerStatus {
	st := models.BrokerStatus{
		Connected: h.tokens.Connected(),
		KeysSaved: h.credentials.HasKeys(),
	}
	if h.feed != nil {
		st.FeedConnected = h.feed.Connected()
	}
	return st
}
