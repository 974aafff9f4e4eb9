package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/vikasavnish/autotrade/internal/broker"
	"github.com/vikasavnish/autotrade/internal/models"
)

const credentialRowID = 1

// CredentialService stores the broker app key pair. It is the token
// manager's credential store.
type CredentialService interface {
	Save(appKey, secretKey string) error
	HasKeys() bool
	BrokerKeys(ctx context.Context) (*broker.Keys, error)
}

type credentialService struct {
	db *gorm.DB
}

// NewCredentialService creates a new credential service
func NewCredentialService(db *gorm.DB) CredentialService {
	return &credentialService{db: db}
}

// Save replaces the stored key pair
func (s *credentialService) Save(appKey, secretKey string) error {
	appKey = strings.TrimSpace(appKey)
	secretKey = strings.TrimSpace(secretKey)
	if appKey == "" || secretKey == "" {
		return errors.New("app key and secret key are required")
	}

	cred := models.BrokerCredential{
		ID:        credentialRowID,
		AppKey:    appKey,
		SecretKey: secretKey,
		UpdatedAt: time.Now(),
	}
	var existing models.BrokerCredential
	if err := s.db.First(&existing, credentialRowID).Error; err == nil {
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.CreatedAt = time.Now()
	}
	return s.db.Save(&cred).Error
}

// HasKeys reports whether a key pair is stored
func (s *credentialService) HasKeys() bool {
	keys, err := s.BrokerKeys(context.Background())
	return err == nil && keys != nil
}

// BrokerKeys returns the stored key pair, or nil when none is saved
func (s *credentialService) BrokerKeys(ctx context.Context) (*broker.Keys, error) {
	var cred models.BrokerCredential
	err := s.db.WithContext(ctx).First(&cred, credentialRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &broker.Keys{AppKey: cred.AppKey, SecretKey: cred.SecretKey}, nil
}
