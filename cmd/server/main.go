package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"videojobs/internal/api"
	"videojobs/internal/app/bootstrap"
	"videojobs/internal/common/security"
	"videojobs/internal/platform/config"
	"videojobs/internal/platform/database"
	"videojobs/internal/platform/logger"
	"videojobs/internal/platform/queue"
)

func main() {
	log := logger.Get()

	// 1. Configuration
	config.Load()
	cfg := config.AppConfig
	log.Info("Configuration loaded.")

	// 2. JWT
	security.InitJWT()

	// 3. Database
	if cfg.DBDriver != "sqlite3" && cfg.AutoMigrate {
		version, err := database.Migrate(cfg.MigrationsSourceURL, cfg.DBConnStr)
		if err != nil {
			log.Fatalf("Migrations failed: %v", err)
		}
		log.WithField("version", version).Info("Migrations applied.")
	}
	database.Connect()
	defer database.Close()

	// 4. Redis
	queue.ConnectRedis()
	defer queue.CloseRedis()

	// 5. Store, queue, gate, render adapter and orchestrator
	components, err := bootstrap.Build(cfg, database.DB, queue.RDB)
	if err != nil {
		log.Fatalf("Could not wire services: %v", err)
	}

	// 6. Render worker (as a goroutine)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		go func() {
			components.Worker.Start(workerCtx)
			close(workerDone)
		}()
	} else {
		close(workerDone)
		log.Info("Render worker disabled.")
	}

	// 7. Router & HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      api.NewRouter(security.TokenAuth, components.Orchestrator),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 8. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.WithField("port", cfg.APIPort).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", cfg.APIPort, err)
		}
	}()

	<-stop

	log.Info("Shutting down server...")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn("Render worker did not stop before the shutdown deadline")
	}

	log.Info("Server and worker stopped gracefully.")
}
