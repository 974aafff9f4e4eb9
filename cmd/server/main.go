package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/vikasavnish/autotrade/internal/api"
	"github.com/vikasavnish/autotrade/internal/broker"
	"github.com/vikasavnish/autotrade/internal/config"
	"github.com/vikasavnish/autotrade/internal/db"
	"github.com/vikasavnish/autotrade/internal/eventlog"
	"github.com/vikasavnish/autotrade/internal/feed"
	"github.com/vikasavnish/autotrade/internal/metrics"
	"github.com/vikasavnish/autotrade/internal/models"
	"github.com/vikasavnish/autotrade/internal/services"
	"github.com/vikasavnish/autotrade/internal/statestore"
	"github.com/vikasavnish/autotrade/internal/tasks"
	"github.com/vikasavnish/autotrade/internal/trading"
	"github.com/vikasavnish/autotrade/internal/websocket"
)

const (
	schedulerInterval = time.Second
	monitorInterval   = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	printRoutes := flag.Bool("routes", false, "print registered routes and exit")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	database, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	authService := services.NewAuthService(database)
	settingsService := services.NewSettingsService(database)
	credentialService := services.NewCredentialService(database)
	eventService := services.NewEventService(database)
	db.SeedAdmin(authService, cfg.Admin)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	wsHub := websocket.NewHub()
	go wsHub.Run()

	recorder := services.NewEventRecorder(eventService, 1024)

	now := func() time.Time { return time.Now().In(cfg.Broker.Location) }
	events := eventlog.New(now, wsHub, recorder)

	httpClient := &http.Client{Timeout: cfg.Broker.HTTPTimeout}
	tokens := broker.NewTokenManager(cfg.Broker.BaseURL, httpClient, credentialService, now, cfg.Broker.Location)
	tokens.OnRefresh = func() {
		metrics.TokenRefreshes.Inc()
		events.Info("Broker access token refreshed")
	}
	brokerClient := broker.NewClient(cfg.Broker.BaseURL, httpClient, tokens)
	brokerClient.OnReauth = metrics.Reauths.Inc

	book := feed.NewPriceBook(cfg.Broker.TickMaxAge, now)
	feedClient := feed.NewClient(cfg.Broker.SocketURL, tokens, book, feed.Options{})

	deps := trading.Deps{
		Orders:           brokerClient,
		Prices:           trading.PriceChain{book, brokerClient},
		Trigger:          feedClient,
		Feed:             feedClient,
		Log:              events,
		Now:              now,
		Location:         cfg.Broker.Location,
		DispatchInterval: time.Second,
	}

	// The scheduler still runs without Redis; a restart may then fire twice in a day.
	redisClient, err := db.ConnectRedis(cfg.Redis)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
	} else {
		defer redisClient.Close()
		deps.RunDate = statestore.NewRunStore(redisClient)
	}

	runtimeCfg, err := settingsService.Get()
	if err != nil {
		log.Printf("Failed to load auto-trade settings, using defaults: %v", err)
		runtimeCfg = models.DefaultRuntimeConfig()
	}

	engine := trading.NewEngine(ctx, runtimeCfg, deps)
	engine.Restore(ctx)
	feedClient.OnMatch = func(seq string, candidates []models.MatchCandidate) {
		engine.HandleMatches(ctx, seq, candidates)
	}

	taskManager := tasks.NewManager()
	taskManager.RegisterTask("scheduler", tasks.NewTickerTask("scheduler", schedulerInterval, engine.SchedulerTick))
	taskManager.RegisterTask("monitor", tasks.NewTickerTask("monitor", monitorInterval, engine.MonitorTick))
	engine.OnResume = func() { taskManager.EnsureRunning("monitor") }

	router := api.SetupRouter(api.RouterDeps{
		JWTSecret:   cfg.JWT.SecretKey,
		Auth:        authService,
		Settings:    settingsService,
		Credentials: credentialService,
		Events:      eventService,
		Engine:      engine,
		Tasks:       taskManager,
		Tokens:      tokens,
		Feed:        feedClient,
		WebSocket:   wsHub.HandleWebSocket,
	})

	if *printRoutes {
		api.PrintRoutes(os.Stdout, router)
		return
	}

	taskManager.StartScheduledTasks(ctx)
	feedDone := make(chan struct{})
	go func() {
		feedClient.Run(ctx)
		close(feedDone)
	}()

	// Set up CORS
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: corsMiddleware.Handler(router),
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	engine.Stop()
	taskManager.StopAllTasks()
	<-feedDone
	engine.Wait()
	recorder.Close()
}
