package tasks

import (
	"context"
	"log"
	"sync"
	"time"
)

// Manager handles the execution of scheduled tasks
type Manager struct {
	mu    sync.Mutex
	ctx   context.Context
	tasks map[string]Task
	order []string
}

// Task represents a scheduled task that needs to be executed
type Task interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
}

// NewManager creates a new task manager
func NewManager() *Manager {
	return &Manager{
		ctx:   context.Background(),
		tasks: make(map[string]Task),
	}
}

// RegisterTask registers a task with the manager
func (m *Manager) RegisterTask(name string, task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[name]; !ok {
		m.order = append(m.order, name)
	}
	m.tasks[name] = task
}

// StartScheduledTasks starts all registered tasks
func (m *Manager) StartScheduledTasks(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	tasks := m.ordered()
	m.mu.Unlock()

	for _, task := range tasks {
		task.Start(ctx)
	}
	log.Println("Started all scheduled tasks")
}

// EnsureRunning restarts a task that has finished on its own.
func (m *Manager) EnsureRunning(name string) {
	m.mu.Lock()
	task, ok := m.tasks[name]
	ctx := m.ctx
	m.mu.Unlock()
	if !ok || task.Running() {
		return
	}
	task.Start(ctx)
}

// StopAllTasks stops all running tasks
func (m *Manager) StopAllTasks() {
	m.mu.Lock()
	tasks := m.ordered()
	m.mu.Unlock()

	for _, task := range tasks {
		task.Stop()
	}
	log.Println("Stopped all scheduled tasks")
}

// Status is the run state of one registered task
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Statuses reports every registered task in registration order
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, Status{Name: name, Running: m.tasks[name].Running()})
	}
	return out
}

// Has reports whether a task is registered under name
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[name]
	return ok
}

func (m *Manager) ordered() []Task {
	out := make([]Task, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.tasks[name])
	}
	return out
}

// TickerTask calls fn on every tick until fn returns false, Stop is called or
// the context ends.
type TickerTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) bool

	mu        sync.Mutex
	stopChan  chan struct{}
	isRunning bool
}

// NewTickerTask creates a new ticker task
func NewTickerTask(name string, interval time.Duration, fn func(ctx context.Context) bool) *TickerTask {
	return &TickerTask{
		name:     name,
		interval: interval,
		fn:       fn,
	}
}

// Start begins the task
func (t *TickerTask) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunning {
		return
	}

	t.isRunning = true
	t.stopChan = make(chan struct{})
	go t.loop(ctx, t.stopChan)

	log.Printf("%s task started", t.name)
}

func (t *TickerTask) loop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !t.fn(ctx) {
				t.finish(stop)
				log.Printf("%s task finished", t.name)
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			t.finish(stop)
			return
		}
	}
}

func (t *TickerTask) finish(stop chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopChan == stop && t.isRunning {
		t.isRunning = false
		close(t.stopChan)
	}
}

// Stop terminates the task
func (t *TickerTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isRunning {
		return
	}

	t.isRunning = false
	close(t.stopChan)
	log.Printf("%s task stopped", t.name)
}

// Running reports whether the task is ticking.
func (t *TickerTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isRunning
}
