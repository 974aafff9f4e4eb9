package models

import (
	"time"
)

// Message represents a WebSocket message
type Message struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content"`
}

// LogLevel classifies a LogRecord for UIs and alerting.
type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarn    LogLevel = "WARN"
	LevelError   LogLevel = "ERROR"
	LevelSuccess LogLevel = "SUCCESS"
)

// LogRecord is one state transition of the auto-trade engine.
type LogRecord struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	Level   LogLevel  `json:"level"`
}

// TradeEvent is the persisted form of a LogRecord
type TradeEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Time      time.Time `json:"time" gorm:"index"`
	Level     string    `json:"level" gorm:"size:16;index"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name for TradeEvent model
func (TradeEvent) TableName() string {
	return "trade_events"
}
