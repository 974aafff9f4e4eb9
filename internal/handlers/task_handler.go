package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vikasavnish/autotrade/internal/tasks"
)

// TaskManager is the part of tasks.Manager exposed over HTTP.
type TaskManager interface {
	Statuses() []tasks.Status
	Has(name string) bool
	EnsureRunning(name string)
}

// TaskHandler reports and restarts the periodic engine tasks
type TaskHandler struct {
	manager TaskManager
}

func NewTaskHandler(manager TaskManager) *TaskHandler {
	return &TaskHandler{
		manager: manager,
	}
}

func (h *TaskHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tasks", h.GetTasks).Methods("GET")
	router.HandleFunc("/tasks/{name}/start", h.StartTask).Methods("POST")
}

// GetTasks lists the registered tasks and whether they are ticking
func (h *TaskHandler) GetTasks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.manager.Statuses())
}

// StartTask restarts a task that has finished, such as the monitor after the cutoff
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !h.manager.Has(name) {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	h.manager.EnsureRunning(name)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.manager.Statuses())
}
