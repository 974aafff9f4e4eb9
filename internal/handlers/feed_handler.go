package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vikasavnish/autotrade/internal/feed"
)

// Feed is the part of feed.Client exposed over HTTP.
type Feed interface {
	Register(codes ...string) error
	Registered() []string
	Conditions() []feed.Condition
	TriggerConditionSearch(ctx context.Context, seq string) error
	StopConditionSearch(seq string) error
}

// FeedHandler exposes tick registration and condition search
type FeedHandler struct {
	feed Feed
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(f Feed) *FeedHandler {
	return &FeedHandler{feed: f}
}

type registerRequest struct {
	Codes []string `json:"codes"`
}

// RegisterRoutes registers feed routes
func (h *FeedHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/feed/register", h.Register).Methods("POST")
	router.HandleFunc("/feed/registered", h.GetRegistered).Methods("GET")
	router.HandleFunc("/feed/conditions", h.GetConditions).Methods("GET")
	router.HandleFunc("/feed/conditions/{seq}/search", h.Search).Methods("POST")
	router.HandleFunc("/feed/conditions/{seq}/search", h.StopSearch).Methods("DELETE")
}

// Register subscribes instruments to live ticks
func (h *FeedHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Codes) == 0 {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	status := http.StatusOK
	if err := h.feed.Register(req.Codes...); err != nil {
		// Codes are kept and sent on the next login.
		log.Printf("Tick registration deferred: %v", err)
		status = http.StatusAccepted
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(h.feed.Registered())
}

// GetRegistered lists the instruments receiving ticks
func (h *FeedHandler) GetRegistered(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.feed.Registered())
}

// GetConditions lists the saved condition searches
func (h *FeedHandler) GetConditions(w http.ResponseWriter, r *http.Request) {
	conds := h.feed.Conditions()
	if conds == nil {
		conds = []feed.Condition{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conds)
}

// Search runs a condition search now, outside the daily schedule
func (h *FeedHandler) Search(w http.ResponseWriter, r *http.Request) {
	seq := mux.Vars(r)["seq"]
	if err := h.feed.TriggerConditionSearch(r.Context(), seq); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// StopSearch stops a running condition search
func (h *FeedHandler) StopSearch(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.StopConditionSearch(mux.Vars(r)["seq"]); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
