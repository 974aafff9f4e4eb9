package utils

import (
	"context"
	"errors"
)

// Key type for context values
type contextKey string

const (
	usernameKey contextKey = "username"
	roleKey     contextKey = "role"
)

// GetUsernameFromContext extracts the operator name from the context
func GetUsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value(usernameKey).(string)
	if !ok || username == "" {
		return "", errors.New("username not found in context")
	}
	return username, nil
}

// GetRoleFromContext returns the operator role, or "" when absent
func GetRoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// SetOperatorToContext adds the operator name and role to the context
func SetOperatorToContext(ctx context.Context, username, role string) context.Context {
	ctx = context.WithValue(ctx, usernameKey, username)
	return context.WithValue(ctx, roleKey, role)
}
