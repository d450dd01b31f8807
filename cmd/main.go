package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"homeapps/internal/api"
	"homeapps/internal/bus"
	"homeapps/internal/cache"
	"homeapps/internal/config"
	"homeapps/internal/daylight"
	"homeapps/internal/ha"
	"homeapps/internal/scheduler"
	"homeapps/internal/store"
	"homeapps/pkg/app"

	// Register the automation apps.
	_ "homeapps/internal/apps/climate"
	_ "homeapps/internal/apps/covers"
	_ "homeapps/internal/apps/motionlights"
	_ "homeapps/internal/apps/presence"
	_ "homeapps/internal/apps/security"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	readOnly := os.Getenv("READ_ONLY") == "true"

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	if haURL == "" || haToken == "" {
		logger.Fatal("HA_URL and HA_TOKEN environment variables must be set")
	}

	logger.Info("Starting automation apps",
		zap.String("url", haURL),
		zap.Bool("read_only", readOnly),
		zap.Strings("registered", app.Names()))

	cfg, err := config.Load(configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Create HA client
	client := ha.NewClient(haURL, haToken, logger)

	// Connect to Home Assistant
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	logger.Info("Connected to Home Assistant")

	// Snapshot of entity state, kept current from the event stream
	snapshot := store.NewStore(client, logger)
	if err := snapshot.Sync(); err != nil {
		logger.Fatal("Failed to sync state from HA", zap.Error(err))
	}
	logger.Info("Entity snapshot synced", zap.Int("entities", snapshot.Len()))

	clock := clockwork.NewRealClock()
	eventBus := bus.NewBus(client, clock, logger)
	jobs := scheduler.NewScheduler(clock, cfg.Location(), logger)

	kv, err := cache.Open(cfg.Cache.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open cache", zap.Error(err))
	}
	defer kv.Close()

	ctx := &app.Context{
		HA:        client,
		Bus:       eventBus,
		Scheduler: jobs,
		Store:     snapshot,
		Cache:     kv,
		Config:    cfg,
		Daylight:  daylight.NewCalculator(cfg.Latitude, cfg.Longitude),
		Logger:    logger,
		ReadOnly:  readOnly,
		Timezone:  cfg.Location(),
	}

	apps, err := app.CreateAll(ctx)
	if err != nil {
		logger.Fatal("Failed to create apps", zap.Error(err))
	}

	for _, a := range apps {
		if err := a.Start(); err != nil {
			logger.Fatal("Failed to start app",
				zap.String("app", a.Name()),
				zap.Error(err))
		}
		logger.Info("App started", zap.String("app", a.Name()))
	}

	appNames := func() []string {
		names := make([]string, 0, len(apps))
		for _, a := range apps {
			names = append(names, a.Name())
		}
		return names
	}

	server := api.NewServer(snapshot, eventBus, jobs, appNames, logger, cfg.HTTP.Port)
	server.Start()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if readOnly {
		logger.Info("Running in READ-ONLY mode - no commands will be sent to Home Assistant")
	}
	logger.Info("Application running. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")

	server.Stop()
	for i := len(apps) - 1; i >= 0; i-- {
		apps[i].Stop()
	}
	jobs.Stop()
}
