package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vikasavnish/autotrade/internal/models"
	"github.com/vikasavnish/autotrade/internal/services"
	"github.com/vikasavnish/autotrade/internal/trading"
	"github.com/vikasavnish/autotrade/internal/utils"
)

// Engine is the part of trading.Engine the control API drives.
type Engine interface {
	Start()
	Stop()
	Status() trading.Status
	UpdateConfig(cfg models.RuntimeConfig)
}

// AutoTradeHandler exposes engine control, settings and the event history
type AutoTradeHandler struct {
	engine   Engine
	settings services.SettingsService
	events   services.EventService
}

// NewAutoTradeHandler creates a new auto-trade handler
func NewAutoTradeHandler(engine Engine, settings services.SettingsService, events services.EventService) *AutoTradeHandler {
	return &AutoTradeHandler{
		engine:   engine,
		settings: settings,
		events:   events,
	}
}

// RegisterRoutes registers auto-trade routes
func (h *AutoTradeHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/autotrade/settings", h.GetSettings).Methods("GET")
	router.HandleFunc("/autotrade/settings", h.UpdateSettings).Methods("PUT")
	router.HandleFunc("/autotrade/start", h.Start).Methods("POST")
	router.HandleFunc("/autotrade/stop", h.Stop).Methods("POST")
	router.HandleFunc("/autotrade/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/autotrade/events", h.GetEvents).Methods("GET")
}

// GetSettings returns the saved runtime configuration
func (h *AutoTradeHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// UpdateSettings replaces the runtime configuration and hands it to the engine
func (h *AutoTradeHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var cfg models.RuntimeConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	saved, err := h.settings.Save(cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.engine.UpdateConfig(saved)
	username, _ := utils.GetUsernameFromContext(r.Context())
	log.Printf("Auto-trade settings updated by %s", username)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(saved)
}

// Start arms the engine
func (h *AutoTradeHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.engine.Start()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.engine.Status())
}

// Stop disarms the engine
func (h *AutoTradeHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.engine.Status())
}

// GetStatus returns the engine status
func (h *AutoTradeHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.engine.Status())
}

// GetEvents returns recent persisted log records
func (h *AutoTradeHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.events.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
