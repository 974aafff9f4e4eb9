package models

import (
	"time"
)

// BrokerCredential holds the app key pair used to obtain access tokens.
// Only one row is kept; saving replaces it.
type BrokerCredential struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AppKey    string    `json:"appKey" gorm:"column:app_key"`
	SecretKey string    `json:"-" gorm:"column:secret_key"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

// TableName specifies the table name for BrokerCredential model
func (BrokerCredential) TableName() string {
	return "broker_credentials"
}

// BrokerKeysRequest is used for saving broker credentials
type BrokerKeysRequest struct {
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

// BrokerStatus reports whether a valid access token is currently held.
type BrokerStatus struct {
	Connected     bool `json:"connected"`
	KeysSaved     bool `json:"keysSaved"`
	FeedConnected bool `json:"feedConnected"`
}
