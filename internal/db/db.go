package db

import (
	"context"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vikasavnish/autotrade/internal/config"
	"github.com/vikasavnish/autotrade/internal/models"
	"github.com/vikasavnish/autotrade/internal/services"
)

// Connect establishes a connection to the database and migrates the schema
func Connect(config config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(config.URL), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables the service owns
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Operator{},
		&models.RuntimeConfig{},
		&models.BrokerCredential{},
		&models.TradeEvent{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// SeedAdmin creates the first operator from configuration if none exists
func SeedAdmin(auth services.AuthService, admin config.AdminConfig) {
	if admin.Password == "" {
		log.Println("ADMIN_PASSWORD not set, skipping default operator creation")
		return
	}
	created, err := auth.EnsureOperator(admin.Username, admin.Password, admin.Email, "admin")
	if err != nil {
		log.Printf("Failed to create default operator: %v", err)
		return
	}
	if created {
		log.Printf("Created default operator %s", admin.Username)
	}
}

// ConnectRedis establishes a connection to Redis
func ConnectRedis(config config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	ctx := context.Background()

	// Test the connection
	_, err = client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}
