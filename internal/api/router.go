package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vikasavnish/autotrade/internal/handlers"
	"github.com/vikasavnish/autotrade/internal/middleware"
	"github.com/vikasavnish/autotrade/internal/services"
)

// RouterDeps are the collaborators the HTTP surface is built from
type RouterDeps struct {
	JWTSecret []byte

	Auth        services.AuthService
	Settings    services.SettingsService
	Credentials services.CredentialService
	Events      services.EventService

	Engine handlers.Engine
	Tasks  handlers.TaskManager
	Tokens handlers.TokenSource
	Feed   interface {
		handlers.Feed
		handlers.ConnectionReporter
	}

	// WebSocket serves the live log stream at /ws when set.
	WebSocket http.HandlerFunc
}

// SetupRouter configures all routes and returns the router
func SetupRouter(deps RouterDeps) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", HealthHandler(deps.Feed)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if deps.WebSocket != nil {
		router.HandleFunc("/ws", deps.WebSocket)
	}

	apiRouter := router.PathPrefix("/api").Subrouter()

	// Public endpoints
	handlers.NewAuthHandler(deps.Auth, deps.JWTSecret).RegisterRoutes(apiRouter)

	authRouter := apiRouter.PathPrefix("").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(deps.JWTSecret))

	handlers.NewAutoTradeHandler(deps.Engine, deps.Settings, deps.Events).RegisterRoutes(authRouter)
	handlers.NewBrokerHandler(deps.Credentials, deps.Tokens, deps.Feed).RegisterRoutes(authRouter)
	handlers.NewFeedHandler(deps.Feed).RegisterRoutes(authRouter)
	if deps.Tasks != nil {
		handlers.NewTaskHandler(deps.Tasks).RegisterRoutes(authRouter)
	}
	authRouter.HandleFunc("/routes", PrintRoutesHandler(router)).Methods("GET")

	return router
}
