package models

import (
	"time"

	"github.com/dgrijalva/jwt-go"
)

// Operator is a person allowed to control the auto-trade engine.
type Operator struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"unique" json:"username"`
	HashedPassword string    `json:"-" gorm:"column:hashed_password"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TableName specifies the table name for Operator model
func (Operator) TableName() string {
	return "operators"
}

// Claims for JWT authentication
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
