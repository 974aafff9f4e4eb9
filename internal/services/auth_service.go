package services

import (
	"errors"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/vikasavnish/autotrade/internal/models"
)

// AuthService defines the interface for operator authentication
type AuthService interface {
	Authenticate(username, password string) (models.Operator, error)
	GenerateToken(op models.Operator, secretKey []byte) (string, error)
	EnsureOperator(username, password, email, role string) (bool, error)
	GetOperator(username string) (models.Operator, error)
}

// authService implements the AuthService interface
type authService struct {
	db *gorm.DB
}

// NewAuthService creates a new authentication service
func NewAuthService(db *gorm.DB) AuthService {
	return &authService{
		db: db,
	}
}

// Authenticate verifies operator credentials and returns the operator if valid
func (s *authService) Authenticate(username, password string) (models.Operator, error) {
	var op models.Operator
	result := s.db.Where("username = ?", username).First(&op)
	if result.Error != nil {
		return models.Operator{}, result.Error
	}

	err := bcrypt.CompareHashAndPassword([]byte(op.HashedPassword), []byte(password))
	if err != nil {
		return models.Operator{}, err
	}

	return op, nil
}

// GenerateToken creates a new JWT token for the operator
func (s *authService) GenerateToken(op models.Operator, secretKey []byte) (string, error) {
	expirationTime := time.Now().Add(60 * time.Minute)
	claims := &models.Claims{
		Username: op.Username,
		Role:     op.Role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expirationTime.Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// EnsureOperator creates the operator when no operator exists yet. It reports
// whether one was created.
func (s *authService) EnsureOperator(username, password, email, role string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.Operator{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if username == "" || password == "" {
		return false, errors.New("no operator exists and no admin credentials are configured")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	op := models.Operator{
		Username:       username,
		HashedPassword: string(hashed),
		Email:          email,
		Role:           role,
	}
	if err := s.db.Create(&op).Error; err != nil {
		return false, err
	}
	return true, nil
}

// GetOperator returns an operator by username
func (s *authService) GetOperator(username string) (models.Operator, error) {
	var op models.Operator
	result := s.db.Where("username = ?", username).First(&op)
	return op, result.Error
}
