package services

import (
	"log"
	"sync"

	"gorm.io/gorm"

	"github.com/vikasavnish/autotrade/internal/models"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventService persists engine log records for post-run review
type EventService interface {
	Record(rec models.LogRecord) error
	Recent(limit int) ([]models.TradeEvent, error)
}

type eventService struct {
	db *gorm.DB
}

// NewEventService creates a new event service
func NewEventService(db *gorm.DB) EventService {
	return &eventService{db: db}
}

// Record stores one log record
func (s *eventService) Record(rec models.LogRecord) error {
	event := models.TradeEvent{
		Time:    rec.Time,
		Level:   string(rec.Level),
		Message: rec.Message,
	}
	return s.db.Create(&event).Error
}

// Recent returns the newest events, newest first
func (s *eventService) Recent(limit int) ([]models.TradeEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	var events []models.TradeEvent
	result := s.db.Order("time desc, id desc").Limit(limit).Find(&events)
	return events, result.Error
}

// EventRecorder writes records through an EventService from a background
// goroutine so logging never waits on the database.
type EventRecorder struct {
	svc  EventService
	ch   chan models.LogRecord
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewEventRecorder starts a recorder with the given buffer size
func NewEventRecorder(svc EventService, buffer int) *EventRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	r := &EventRecorder{
		svc:  svc,
		ch:   make(chan models.LogRecord, buffer),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Publish implements eventlog.Sink. Records published after Close are
// written to the std log only.
func (r *EventRecorder) Publish(rec models.LogRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		log.Printf("Event recorder closed, not persisting: %s", rec.Message)
		return
	}
	select {
	case r.ch <- rec:
	default:
		log.Printf("Event recorder buffer full, dropping: %s", rec.Message)
	}
}

func (r *EventRecorder) run() {
	defer close(r.done)
	for rec := range r.ch {
		if err := r.svc.Record(rec); err != nil {
			log.Printf("Error recording trade event: %v", err)
		}
	}
}

// Close flushes buffered records and stops the recorder
func (r *EventRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	<-r.done
}
